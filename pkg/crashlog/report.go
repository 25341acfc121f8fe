// report.go defines the on-disk report format.
//
// A report file is line oriented:
//
//	versionName=1.2.0
//	versionCode=12
//	GOOS=linux
//
//	<body>
//
// The header holds the snapshot as key=value lines in insertion order, then
// one empty line, then the body: the rendered trace for crashes, the raw text
// for notes. Backslashes, CR and LF inside keys and values are escaped, and
// "=" inside keys is escaped as "\=".

package crashlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Ext is the extension of every report file.
	Ext = ".log"

	crashPrefix = "crash"
	notePrefix  = "crashlog"

	fileTimeLayout = "2006-01-02-15-04-05"
)

var (
	valueEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	keyEscaper     = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`, "=", `\=`)
	fieldUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r", `\=`, "=")

	fileNamePattern = regexp.MustCompile(`^(crash|crashlog)-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})-(\d+)\.log$`)
)

// ReportFile is a parsed report.
type ReportFile struct {
	Snapshot []Pair
	Body     string
}

// Get returns the snapshot value for key.
func (r *ReportFile) Get(key string) (string, bool) {
	for _, p := range r.Snapshot {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// EncodeReport renders the header pairs and body in the report format.
func EncodeReport(pairs []Pair, body string) []byte {
	var b bytes.Buffer
	for _, p := range pairs {
		b.WriteString(keyEscaper.Replace(p.Key))
		b.WriteByte('=')
		b.WriteString(valueEscaper.Replace(p.Value))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(body)
	return b.Bytes()
}

// ParseReport reads a report written by EncodeReport.
func ParseReport(r io.Reader) (*ReportFile, error) {
	br := bufio.NewReader(r)
	rf := &ReportFile{}
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if errors.Is(err, io.EOF) && line == "" {
			return nil, errors.New("missing header terminator")
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" && !errors.Is(err, io.EOF) {
			break
		}
		key, value, ok := cutUnescaped(line)
		if !ok {
			return nil, fmt.Errorf("header line %d: missing '='", lineNo)
		}
		rf.Snapshot = append(rf.Snapshot, Pair{
			Key:   fieldUnescaper.Replace(key),
			Value: fieldUnescaper.Replace(value),
		})
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header terminator")
		}
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	rf.Body = string(body)
	return rf, nil
}

// cutUnescaped splits line at the first "=" not preceded by an escape.
func cutUnescaped(line string) (string, string, bool) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '=':
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}

// FileName returns the report file name for kind at t with the given
// millisecond suffix.
func FileName(kind Kind, t time.Time, millis int64) string {
	prefix := crashPrefix
	if kind == KindNote {
		prefix = notePrefix
	}
	return fmt.Sprintf("%s-%s-%d%s", prefix, t.Format(fileTimeLayout), millis, Ext)
}

// FileInfo is the metadata encoded in a report file name.
type FileInfo struct {
	Kind   Kind
	Time   time.Time
	Millis int64
}

// ParseFileName decodes a name produced by FileName. The time is parsed
// in the local time zone, as it was written.
func ParseFileName(name string) (FileInfo, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileInfo{}, false
	}
	t, err := time.ParseInLocation(fileTimeLayout, m[2], time.Local)
	if err != nil {
		return FileInfo{}, false
	}
	millis, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return FileInfo{}, false
	}
	kind := KindCrash
	if m[1] == notePrefix {
		kind = KindNote
	}
	return FileInfo{Kind: kind, Time: t, Millis: millis}, true
}
