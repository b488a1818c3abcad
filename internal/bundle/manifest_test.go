package bundle

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseManifest(t *testing.T) {
	input := `# scraper dependencies
requests==2.32.3
beautifulsoup4 >= 4.12, <5   # parser
openai[datalib]==1.59.7 \
    --hash=sha256:aaaa
boto3 ; python_version >= "3.12"
--extra-index-url https://pypi.example.com/simple

`
	m, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseManifest() err=%v", err)
	}
	if len(m.Requirements) != 4 {
		t.Fatalf("expected 4 requirements, got %d", len(m.Requirements))
	}

	bs := m.Requirements[1]
	if bs.Name != "beautifulsoup4" || len(bs.Specifiers) != 2 || bs.Specifiers[1] != (Specifier{Op: "<", Version: "5"}) {
		t.Fatalf("unexpected requirement %+v", bs)
	}
	oa := m.Requirements[2]
	if oa.Line != 4 || !reflect.DeepEqual(oa.Extras, []string{"datalib"}) || !reflect.DeepEqual(oa.Hashes, []string{"sha256:aaaa"}) {
		t.Fatalf("unexpected continuation parse %+v", oa)
	}
	if m.Requirements[3].Marker != `python_version >= "3.12"` {
		t.Fatalf("unexpected marker %q", m.Requirements[3].Marker)
	}
	if want := []string{"--extra-index-url", "https://pypi.example.com/simple"}; !reflect.DeepEqual(m.Options, want) {
		t.Fatalf("options=%v, want %v", m.Options, want)
	}
	if want := []string{"beautifulsoup4>=4.12,<5", "boto3"}; !reflect.DeepEqual(m.Unpinned(), want) {
		t.Fatalf("Unpinned()=%v, want %v", m.Unpinned(), want)
	}
}

func TestParseManifestRejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "# nothing here\n\n",
		"editable":     "-e git+https://github.com/acme/lib.git\n",
		"nested":       "-r base.txt\n",
		"url":          "https://files.example.com/lib-1.0.tar.gz\n",
		"local path":   "./vendor/lib\n",
		"direct ref":   "lib @ https://example.com/lib.whl\n",
		"bad spec":     "requests=2.0\n",
		"duplicate":    "requests==2.0\nRequests==2.1\n",
		"unknown opt":  "--no-binary :all:\n",
		"empty marker": "requests==2.0 ;\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseManifest(strings.NewReader(input)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestManifestErrorCarriesLine(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("requests==2.0\n\nnot a requirement!\n"))
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
	if merr.Line != 3 {
		t.Fatalf("expected line 3, got %d", merr.Line)
	}
}

func TestRequirementPinned(t *testing.T) {
	cases := []struct {
		spec []Specifier
		want bool
	}{
		{spec: []Specifier{{Op: "==", Version: "1.0"}}, want: true},
		{spec: []Specifier{{Op: "===", Version: "1.0"}}, want: true},
		{spec: []Specifier{{Op: "==", Version: "1.*"}}, want: false},
		{spec: []Specifier{{Op: ">=", Version: "1.0"}}, want: false},
		{spec: nil, want: false},
	}
	for _, tc := range cases {
		if got := (Requirement{Name: "x", Specifiers: tc.spec}).Pinned(); got != tc.want {
			t.Fatalf("Pinned(%v)=%v, want %v", tc.spec, got, tc.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("Zope.Interface__x"); got != "zope-interface-x" {
		t.Fatalf("NormalizeName()=%q", got)
	}
}
