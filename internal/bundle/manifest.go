package bundle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	requirementPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	specifierPattern   = regexp.MustCompile(`^(~=|===|==|!=|<=|>=|<|>)\s*([A-Za-z0-9][A-Za-z0-9.*+!_-]*)$`)
	separatorRun       = regexp.MustCompile(`[-_.]+`)
)

// index options that only change where wheels come from
var passthroughOptions = map[string]bool{
	"--index-url":       true,
	"-i":                true,
	"--extra-index-url": true,
	"--find-links":      true,
	"-f":                true,
	"--no-index":        true,
	"--pre":             true,
}

// Manifest is a parsed requirements.txt.
type Manifest struct {
	Requirements []Requirement
	Options      []string
}

type Requirement struct {
	Line       int
	Name       string
	Extras     []string
	Specifiers []Specifier
	Marker     string
	Hashes     []string
}

type Specifier struct {
	Op      string
	Version string
}

// ManifestError points at the offending manifest line.
type ManifestError struct {
	Line int
	Text string
	Msg  string
}

func (e *ManifestError) Error() string {
	if e.Line == 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// Pinned reports whether the requirement names exactly one version.
func (r Requirement) Pinned() bool {
	if len(r.Specifiers) != 1 {
		return false
	}
	s := r.Specifiers[0]
	return (s.Op == "==" || s.Op == "===") && !strings.Contains(s.Version, "*")
}

func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	for i, s := range r.Specifiers {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(s.Op + s.Version)
	}
	return b.String()
}

// Unpinned lists requirements that may resolve to a newer release on the
// next build.
func (m Manifest) Unpinned() []string {
	var out []string
	for _, r := range m.Requirements {
		if !r.Pinned() {
			out = append(out, r.String())
		}
	}
	return out
}

func ParseManifestFile(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}

func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	seen := make(map[string]int)

	lines, err := logicalLines(r)
	if err != nil {
		return Manifest{}, err
	}
	for _, ln := range lines {
		text := stripComment(ln.text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "-") {
			opts, err := parseOptionLine(ln.no, text)
			if err != nil {
				return Manifest{}, err
			}
			m.Options = append(m.Options, opts...)
			continue
		}
		req, err := parseRequirement(ln.no, text)
		if err != nil {
			return Manifest{}, err
		}
		key := NormalizeName(req.Name)
		if prev, ok := seen[key]; ok {
			return Manifest{}, &ManifestError{Line: ln.no, Text: text, Msg: fmt.Sprintf("duplicate requirement (first on line %d)", prev)}
		}
		seen[key] = ln.no
		m.Requirements = append(m.Requirements, req)
	}
	if len(m.Requirements) == 0 {
		return Manifest{}, &ManifestError{Msg: "manifest lists no requirements"}
	}
	return m, nil
}

// NormalizeName applies the PEP 503 name normalization.
func NormalizeName(name string) string {
	return strings.ToLower(separatorRun.ReplaceAllString(name, "-"))
}

type logicalLine struct {
	no   int
	text string
}

// logicalLines joins backslash continuations, keeping the first line number.
func logicalLines(r io.Reader) ([]logicalLine, error) {
	var out []logicalLine
	scanner := bufio.NewScanner(r)
	no := 0
	var pending strings.Builder
	start := 0
	for scanner.Scan() {
		no++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if pending.Len() == 0 {
			start = no
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(line)
		out = append(out, logicalLine{no: start, text: pending.String()})
		pending.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if pending.Len() > 0 {
		out = append(out, logicalLine{no: start, text: pending.String()})
	}
	return out, nil
}

func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	if idx := strings.Index(line, " #"); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, "\t#"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

func parseOptionLine(no int, text string) ([]string, error) {
	fields := strings.Fields(text)
	name, value, hasValue := strings.Cut(fields[0], "=")
	switch name {
	case "-r", "--requirement", "-c", "--constraint":
		return nil, &ManifestError{Line: no, Text: text, Msg: "nested requirement files are not supported"}
	case "-e", "--editable":
		return nil, &ManifestError{Line: no, Text: text, Msg: "editable installs require a source build"}
	}
	if !passthroughOptions[name] {
		return nil, &ManifestError{Line: no, Text: text, Msg: "unsupported option"}
	}
	if name == "--no-index" || name == "--pre" {
		return []string{name}, nil
	}
	if !hasValue {
		if len(fields) < 2 {
			return nil, &ManifestError{Line: no, Text: text, Msg: "option requires a value"}
		}
		value = fields[1]
	}
	return []string{name, value}, nil
}

func parseRequirement(no int, text string) (Requirement, error) {
	req := Requirement{Line: no}

	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if h, ok := strings.CutPrefix(f, "--hash="); ok {
			req.Hashes = append(req.Hashes, h)
			continue
		}
		if strings.HasPrefix(f, "--") {
			return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "unsupported per-requirement option " + f}
		}
		kept = append(kept, f)
	}
	body := strings.Join(kept, " ")

	if spec, marker, ok := strings.Cut(body, ";"); ok {
		body = strings.TrimSpace(spec)
		req.Marker = strings.TrimSpace(marker)
		if req.Marker == "" {
			return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "empty environment marker"}
		}
	}
	if strings.Contains(body, "://") || strings.HasPrefix(body, ".") || strings.HasPrefix(body, "/") {
		return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "paths and URLs are not allowed, name a published package"}
	}

	m := requirementPattern.FindStringSubmatch(body)
	if m == nil {
		return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "malformed requirement"}
	}
	req.Name = m[1]
	if extras := strings.TrimSpace(m[2]); extras != "" {
		for _, e := range strings.Split(extras, ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "empty extra"}
			}
			req.Extras = append(req.Extras, e)
		}
	}

	rest := strings.TrimSpace(m[3])
	if strings.HasPrefix(rest, "@") {
		return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "direct references are not allowed"}
	}
	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	if rest == "" {
		return req, nil
	}
	for _, part := range strings.Split(rest, ",") {
		sm := specifierPattern.FindStringSubmatch(strings.TrimSpace(part))
		if sm == nil {
			return Requirement{}, &ManifestError{Line: no, Text: text, Msg: "malformed version specifier"}
		}
		req.Specifiers = append(req.Specifiers, Specifier{Op: sm[1], Version: sm[2]})
	}
	return req, nil
}
