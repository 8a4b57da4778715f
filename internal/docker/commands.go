package docker

import (
	"fmt"

	"github.com/alessio/shellescape"
)

const (
	dataMount   = "/data"
	backupMount = "/backup"
)

// ArchiveCommand tars source (a volume name or host path) into
// backupDir/archive.tar.gz using a throwaway container of image.
func ArchiveCommand(image, source, backupDir, archive string) string {
	return fmt.Sprintf("docker run --rm -v %s -v %s %s tar czf %s -C %s .",
		shellescape.Quote(source+":"+dataMount+":ro"),
		shellescape.Quote(backupDir+":"+backupMount),
		shellescape.Quote(image),
		shellescape.Quote(backupMount+"/"+archive+".tar.gz"),
		dataMount,
	)
}

// RestoreCommand empties volume and extracts backupDir/archive.tar.gz into it.
func RestoreCommand(image, volume, backupDir, archive string) string {
	script := fmt.Sprintf("find %s -mindepth 1 -delete && tar xzf %s -C %s",
		dataMount, shellescape.Quote(backupMount+"/"+archive+".tar.gz"), dataMount)
	return fmt.Sprintf("docker run --rm -v %s -v %s %s sh -c %s",
		shellescape.Quote(volume+":"+dataMount),
		shellescape.Quote(backupDir+":"+backupMount),
		shellescape.Quote(image),
		shellescape.Quote(script),
	)
}

// WithSudo prefixes a command for privilege escalation.
func WithSudo(command string) string {
	return "sudo " + command
}
