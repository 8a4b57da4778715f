package backup

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
)

const (
	spinnerFrames = `"⠋" "⠙" "⠹" "⠸" "⠼" "⠴" "⠦" "⠧" "⠇" "⠏"`
	refreshRate   = 100 * time.Millisecond
)

// progressBar is a byte-counting bar on stderr.
type progressBar struct {
	bar *pb.ProgressBar
}

func startBar(size int64, description string) progressBar {
	tmpl := fmt.Sprintf(`{{ %q }} {{ bar . "[" "=" ">" " " "]"}} {{speed . }} {{percent . }} {{rtime . " ETA"}}`, description)

	bar := pb.New64(size)
	bar.Set(pb.SIBytesPrefix, true)
	bar.SetTemplateString(tmpl)
	bar.SetRefreshRate(refreshRate)
	bar.SetWriter(os.Stderr)
	bar.Start()
	return progressBar{bar: bar}
}

// Close finishes the bar.
func (p progressBar) Close() error {
	p.bar.Finish()
	return nil
}

// ProgressReader reports bytes read from an export or download stream.
type ProgressReader struct {
	progressBar
	reader io.Reader
}

func NewProgressReader(r io.Reader, size int64, description string) *ProgressReader {
	bar := startBar(size, description)
	return &ProgressReader{progressBar: bar, reader: bar.bar.NewProxyReader(r)}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	return pr.reader.Read(p)
}

// ProgressWriter reports bytes written to a local file.
type ProgressWriter struct {
	progressBar
	writer io.Writer
}

func NewProgressWriter(w io.Writer, size int64, description string) *ProgressWriter {
	bar := startBar(size, description)
	return &ProgressWriter{progressBar: bar, writer: bar.bar.NewProxyWriter(w)}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	return pw.writer.Write(p)
}

// Spinner marks a step of unknown length, such as an archive container
// whose output size is unknown until it exits.
type Spinner struct {
	bar *pb.ProgressBar
}

func NewSpinner(description string) *Spinner {
	bar := pb.New(0)
	bar.SetTemplateString(spinnerTemplate(description))
	bar.SetRefreshRate(refreshRate)
	bar.SetWriter(os.Stderr)
	bar.Start()
	return &Spinner{bar: bar}
}

// Update replaces the description shown next to the spinner.
func (s *Spinner) Update(description string) {
	s.bar.SetTemplateString(spinnerTemplate(description))
}

func (s *Spinner) Stop() {
	s.bar.Finish()
}

func spinnerTemplate(description string) string {
	return fmt.Sprintf(`{{ %q }} {{ cycle . %s }}`, description, spinnerFrames)
}
