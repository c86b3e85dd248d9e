package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const (
	format = "2006-01-02 15:04:05"
)

var levelColors = map[logrus.Level]*color.Color{
	logrus.TraceLevel: color.New(color.FgCyan),
	logrus.DebugLevel: color.New(color.FgGreen),
	logrus.InfoLevel:  color.New(color.FgWhite),
	logrus.WarnLevel:  color.New(color.FgBlue),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
}

// Formatter prints "<time> <LEVEL> <message> k=v ..." with the level coloured.
type Formatter struct {
	// NoColor disables colouring regardless of the terminal.
	NoColor bool
}

func (f *Formatter) Format(e *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	level := strings.ToUpper(e.Level.String())
	if e.Level == logrus.WarnLevel {
		level = "WARN"
	}

	line := fmt.Sprintf("%v %s %s", e.Time.Format(format), level, e.Message)
	if c, ok := levelColors[e.Level]; ok && !f.NoColor {
		line = c.Sprint(line)
	}
	b.WriteString(line)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := e.Data[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fmt.Fprintf(b, " %s=%v", k, v)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Setup configures the standard logrus logger and returns it.
func Setup(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := logrus.StandardLogger()
	l.SetLevel(lvl)
	l.SetFormatter(&Formatter{NoColor: color.NoColor})
	if out != nil {
		l.SetOutput(out)
	}

	return l, nil
}
