package backup

import (
	"bytes"
	"context"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ypeckstadt/dhom/internal/config"
	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/executor/executortest"
	"github.com/ypeckstadt/dhom/internal/models"
	"github.com/ypeckstadt/dhom/internal/target"
)

const (
	backupRoot = "/mnt/backups"
	backupName = "20240309_140507"
	backupDir  = backupRoot + "/" + backupName
)

var fixedTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

var nas = config.Host{Name: "nas", Hostname: "nas.lan", BackupPath: backupRoot}

func newTestClient(t *testing.T, fake *executortest.Fake, host config.Host) (*Client, *bytes.Buffer) {
	t.Helper()
	tc := &target.Context{
		Executor:       fake,
		IsLocal:        fake.Kind() == executor.KindLocal,
		DisplayAddress: "localhost",
		Name:           host.Name,
	}
	var out bytes.Buffer
	c := NewClient(tc, host, Options{
		Out:    &out,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedTime },
	})
	return c, &out
}

// writeArchive simulates the archive container by creating the archive it names.
func writeArchive(fake *executortest.Fake, dir string) executortest.Handler {
	return func(command string) (*executor.Result, error) {
		const marker = "tar czf /backup/"
		if i := strings.Index(command, marker); i >= 0 {
			name := strings.Fields(command[i+len(marker):])[0]
			fake.AddFile(path.Join(dir, name), []byte("tgz"))
		}
		return &executor.Result{}, nil
	}
}

func indexOf(commands []string, prefix string) int {
	for i, c := range commands {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func lastIndexOf(commands []string, prefix string) int {
	for i := len(commands) - 1; i >= 0; i-- {
		if strings.HasPrefix(commands[i], prefix) {
			return i
		}
	}
	return -1
}

func TestCreateEmptyHost(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backupDir, report.BackupDir)
	assert.Equal(t, 0, report.VolumesFound)
	assert.Contains(t, report.Render(), "0/0 backed up")
	assert.Empty(t, report.Artifacts())
	assert.NoError(t, report.Err())

	manifest, ok := fake.File(backupDir + "/" + models.ManifestFile)
	require.True(t, ok, "manifest is written")
	assert.Contains(t, string(manifest), "Host: nas.lan\n")
	assert.Contains(t, string(manifest), "Timestamp: 20240309_140507\n")
	assert.Contains(t, string(manifest), "Volume Count: 0\n")

	assert.Empty(t, fake.CommandsWithPrefix("docker stop"))
	assert.Empty(t, fake.CommandsWithPrefix("docker start"))
	assert.Empty(t, fake.CommandsWithPrefix("docker run"))

	require.Len(t, report.Contents, 1)
	assert.Equal(t, models.ManifestFile, report.Contents[0].Name)
}

func TestCreateContinuesPastFailedVolume(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	fake.On("docker ps -q", executortest.Reply("c1\nc2\n")).
		On("docker volume ls", executortest.Reply("a\nb\nc\n")).
		On("docker run", writeArchive(fake, backupDir)).
		On("docker run --rm -v b:/data:ro", executortest.Fail(1, "no space left on device"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err, "per-volume failures are not step failures")

	assert.Equal(t, 2, report.Volumes.Succeeded())
	assert.Equal(t, 1, report.Volumes.Failed())
	assert.Equal(t, "b", report.Volumes.Failures()[0].Name)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "no space left on device")

	assert.Equal(t, []string{"docker start c1", "docker start c2"}, fake.CommandsWithPrefix("docker start"))
	assert.Equal(t, 2, report.Starts.Succeeded())

	commands := fake.Commands()
	assert.Less(t, lastIndexOf(commands, "docker stop"), indexOf(commands, "docker run"), "containers stop before archiving")
	assert.Greater(t, indexOf(commands, "docker start"), lastIndexOf(commands, "docker run"), "containers restart after archiving")

	manifest, ok := fake.File(backupDir + "/" + models.ManifestFile)
	require.True(t, ok)
	parsed, err := models.ParseManifest(string(manifest))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, parsed.Volumes)

	var names []string
	for _, f := range report.Contents {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.tar.gz", models.ManifestFile, "c.tar.gz"}, names)
}

func TestCreateArchiveCommands(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	fake.On("docker volume ls", executortest.Reply("db_data\n"))
	c, _ := newTestClient(t, fake, nas)
	c.image = "busybox"

	_, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"docker run --rm -v db_data:/data:ro -v /mnt/backups/20240309_140507:/backup busybox tar czf /backup/db_data.tar.gz -C /data ."},
		fake.CommandsWithPrefix("docker run"))
}

func TestCreateBindMounts(t *testing.T) {
	inspect := `[{"Id":"1","Mounts":[
		{"Type":"bind","Source":"/srv/web/config","Destination":"/config"},
		{"Type":"bind","Source":"/etc/localtime","Destination":"/etc/localtime"},
		{"Type":"bind","Source":"/gone","Destination":"/gone"},
		{"Type":"volume","Name":"web_data","Source":"/var/lib/docker/volumes/web_data/_data","Destination":"/data"}
	]}]`

	fake := executortest.New().AddDir("/mnt").AddDir("/srv/web/config").AddFile("/etc/localtime", []byte("tz"))
	fake.On("docker ps -a", executortest.Reply("web\n")).
		On("docker inspect --type container web", executortest.Reply(inspect)).
		On("sudo docker run", writeArchive(fake, backupDir)).
		On("docker run", executortest.Fail(1, "permission denied"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err)

	require.Len(t, report.BindMounts, 1)
	outcome := report.BindMounts[0]
	assert.True(t, outcome.OK())
	assert.True(t, outcome.Escalated)
	assert.Equal(t, "web_config.tar.gz", outcome.Archive)
	assert.Equal(t, []string{"web:/etc/localtime", "web:/gone"}, report.Skipped)

	assert.Len(t, fake.CommandsWithPrefix("docker run"), 1)
	assert.Len(t, fake.CommandsWithPrefix("sudo docker run"), 1)
	_, ok := fake.File(backupDir + "/web_config.tar.gz")
	assert.True(t, ok)
}

func TestCreateVolumesAreNotEscalated(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	fake.On("docker volume ls", executortest.Reply("db\n")).
		On("docker run", executortest.Fail(1, "permission denied"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Volumes.Failed())
	assert.Empty(t, fake.CommandsWithPrefix("sudo"))
}

func TestCreateTransportFailureIsNotRetried(t *testing.T) {
	fake := executortest.NewRemote().AddDir("/mnt").AddDir("/srv/app")
	fake.On("docker ps -q", executortest.Reply("c1\n")).
		On("docker ps -a", executortest.Reply("app\n")).
		On("docker inspect", executortest.Reply(`[{"Mounts":[{"Type":"bind","Source":"/srv/app"}]}]`)).
		On("docker run", executortest.Broken())
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.Error(t, err)
	assert.True(t, executor.IsTransport(err))
	assert.Empty(t, fake.CommandsWithPrefix("sudo"))
	assert.Equal(t, []string{"docker start c1"}, fake.CommandsWithPrefix("docker start"), "restart is still attempted")
	_, ok := fake.File(backupDir + "/" + models.ManifestFile)
	assert.False(t, ok, "remaining steps are skipped after a transport failure")
	assert.Equal(t, 1, report.BindMounts.Failed())
}

func TestCreatePreconditions(t *testing.T) {
	t.Run("unmounted parent", func(t *testing.T) {
		fake := executortest.New()
		c, _ := newTestClient(t, fake, nas)

		_, err := c.Create(context.Background())
		require.Error(t, err)
		assert.True(t, errdefs.IsFailedPrecondition(err))
		assert.Contains(t, err.Error(), "/mnt")
		assert.Empty(t, fake.Commands())
		assert.False(t, fake.HasDir(backupDir))
	})

	t.Run("missing backup path", func(t *testing.T) {
		fake := executortest.New()
		c, _ := newTestClient(t, fake, config.Host{Name: "pi"})

		_, err := c.Create(context.Background())
		require.Error(t, err)
		assert.True(t, errdefs.IsInvalidArgument(err))
		assert.Contains(t, err.Error(), "HOST_PI_BACKUP_PATH")
		assert.Empty(t, fake.Commands())
	})

	t.Run("container listing fails", func(t *testing.T) {
		fake := executortest.New().AddDir("/mnt")
		fake.On("docker ps -q", executortest.Fail(1, "Cannot connect to the Docker daemon"))
		c, _ := newTestClient(t, fake, nas)

		report, err := c.Create(context.Background())
		require.Error(t, err)
		assert.Equal(t, []string{"docker ps -q"}, fake.Commands())
		assert.Equal(t, backupDir, report.BackupDir)
		assert.False(t, report.Finished.IsZero(), "the run is still summarized")
		assert.Empty(t, report.Contents)
	})
}

func TestCreateStopFailureStillRestartsFullSet(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	fake.On("docker ps -q", executortest.Reply("c1\nc2\n")).
		On("docker stop c2", executortest.Fail(1, "timeout"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stops.Failed())
	assert.Equal(t, []string{"docker start c1", "docker start c2"}, fake.CommandsWithPrefix("docker start"))
}

func TestRestoreOnlyArchives(t *testing.T) {
	fake := executortest.New().
		AddFile(backupDir+"/notes.txt", []byte("hi")).
		AddFile(backupDir+"/cache.tar.gz", []byte("tgz")).
		AddFile(backupDir+"/.tar.gz", []byte("??"))
	fake.On("docker ps -q", executortest.Reply("c1\n")).
		On("docker volume inspect", executortest.Fail(1, "no such volume"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Restore(context.Background(), backupName)
	require.NoError(t, err)

	require.Len(t, report.Restores, 1)
	assert.Equal(t, "cache", report.Restores[0].Name)
	assert.True(t, report.Restores[0].OK())

	assert.Equal(t, []string{"docker volume create cache"}, fake.CommandsWithPrefix("docker volume create"))
	runs := fake.CommandsWithPrefix("docker run")
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0], "-v cache:/data ")
	assert.Contains(t, runs[0], "tar xzf /backup/cache.tar.gz")

	commands := fake.Commands()
	assert.Less(t, indexOf(commands, "docker stop"), indexOf(commands, "docker run"))
	assert.Greater(t, indexOf(commands, "docker start"), indexOf(commands, "docker run"))
}

func TestRestoreExistingVolumeIsNotRecreated(t *testing.T) {
	fake := executortest.New().AddFile(backupDir+"/db.tar.gz", []byte("tgz"))
	c, _ := newTestClient(t, fake, nas)

	_, err := c.Restore(context.Background(), backupName)
	require.NoError(t, err)
	assert.Empty(t, fake.CommandsWithPrefix("docker volume create"))
	assert.Len(t, fake.CommandsWithPrefix("docker run"), 1)
}

func TestRestoreMissingBackupListsAvailable(t *testing.T) {
	fake := executortest.New().AddDir(backupRoot + "/20240101_000000").AddDir(backupRoot + "/20240201_000000")
	c, _ := newTestClient(t, fake, nas)

	_, err := c.Restore(context.Background(), "20230101_000000")
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err))
	assert.Contains(t, err.Error(), "20240201_000000, 20240101_000000")
	assert.Empty(t, fake.Commands(), "nothing is stopped")
}

func TestRestoreRejectsEscapingNames(t *testing.T) {
	fake := executortest.New().AddDir(backupRoot)
	c, _ := newTestClient(t, fake, nas)

	for _, name := range []string{"", "..", "../etc", "a/b"} {
		_, err := c.Restore(context.Background(), name)
		assert.True(t, errdefs.IsInvalidArgument(err), name)
	}
	assert.Empty(t, fake.Commands())
}

func TestListMissingRoot(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	c, _ := newTestClient(t, fake, nas)

	_, err := c.List(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err))
	assert.Contains(t, err.Error(), backupRoot)
	assert.Empty(t, fake.Commands(), "no docker command is issued")
}

func TestListNewestFirst(t *testing.T) {
	manifest := models.NewManifest("nas", fixedTime, []string{"db"}).Render()
	fake := executortest.New().
		AddFile(backupRoot+"/20240101_000000/db.tar.gz", []byte("12345")).
		AddFile(backupRoot+"/20240309_140507/db.tar.gz", []byte("123")).
		AddFile(backupRoot+"/20240309_140507/web_config.tar.gz", []byte("1234567")).
		AddFile(backupRoot+"/20240309_140507/"+models.ManifestFile, []byte(manifest)).
		AddFile(backupRoot+"/stray.txt", []byte("x"))
	c, _ := newTestClient(t, fake, nas)

	entries, err := c.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "20240309_140507", entries[0].Name)
	assert.Equal(t, int64(10), entries[0].TotalSize())
	require.NotNil(t, entries[0].Manifest)
	assert.Equal(t, []string{"db"}, entries[0].Manifest.Volumes)
	assert.True(t, fixedTime.Equal(entries[0].Time))

	assert.Equal(t, "20240101_000000", entries[1].Name)
	assert.Nil(t, entries[1].Manifest)

	limited, err := c.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "20240309_140507", limited[0].Name)

	assert.Empty(t, fake.Commands())
}

func TestReportRender(t *testing.T) {
	fake := executortest.New().AddDir("/mnt").AddDir("/srv/web/config")
	fake.On("docker ps -q", executortest.Reply("c1\n")).
		On("docker volume ls", executortest.Reply("a\nb\nc\n")).
		On("docker ps -a", executortest.Reply("web\n")).
		On("docker inspect", executortest.Reply(`[{"Mounts":[{"Type":"bind","Source":"/srv/web/config"},{"Type":"bind","Source":"/gone"}]}]`)).
		On("docker run", writeArchive(fake, backupDir)).
		On("docker run --rm -v b:/data:ro", executortest.Fail(1, "boom"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.VolumesFound)

	out := report.Render()
	assert.Contains(t, out, "Backup summary: nas")
	assert.Contains(t, out, "2/3 backed up")
	assert.Contains(t, out, "1/1 backed up, 1 skipped")
	assert.Contains(t, out, "3 succeeded")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "volume b")
	assert.Contains(t, out, "1/1 restarted")
	assert.Contains(t, out, "a.tar.gz")
	assert.Contains(t, out, "web_config.tar.gz")
}

func TestCreateSkipsManifestWhenVolumesCannotBeListed(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	fake.On("docker ps -q", executortest.Reply("c1\n")).
		On("docker volume ls", executortest.Fail(1, "daemon hiccup"))
	c, _ := newTestClient(t, fake, nas)

	report, err := c.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon hiccup")
	assert.Equal(t, -1, report.VolumesFound)

	_, ok := fake.File(backupDir + "/" + models.ManifestFile)
	assert.False(t, ok, "no manifest claiming zero volumes")
	assert.Equal(t, []string{"docker start c1"}, fake.CommandsWithPrefix("docker start"))
	assert.Contains(t, report.Render(), "not listed")
}

func TestQuietSuppressesOutput(t *testing.T) {
	fake := executortest.New().AddDir("/mnt")
	tc := &target.Context{Executor: fake, IsLocal: true, DisplayAddress: "localhost", Name: "nas"}
	var out bytes.Buffer
	c := NewClient(tc, nas, Options{Out: &out, Quiet: true, Logger: zerolog.Nop(), Now: func() time.Time { return fixedTime }})

	_, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestCloseReleasesExecutor(t *testing.T) {
	fake := executortest.NewRemote()
	c, _ := newTestClient(t, fake, nas)
	require.NoError(t, c.Close())
	assert.True(t, fake.Closed())
}

func TestBindMountArchiveName(t *testing.T) {
	assert.Equal(t, "web_config", bindMountArchiveName("web", "/srv/web/config"))
	assert.Equal(t, "web_config", bindMountArchiveName("web", "/srv/web/config/"))
	assert.Equal(t, "web_root", bindMountArchiveName("web", "/"))
}
