package resources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/schema"
)

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry(arbor.NewLogger())
	require.NoError(t, registry.Register(models.FormatDefinition{
		Name:      "dif",
		Extension: ".xml",
		IDXPath:   "//Entry_ID",
		URLs: []models.URLFieldDef{
			{XPath: "//Primary", Label: models.LabelPrimary, Min: 1, Max: 1, Retrieve: true},
			{XPath: "//Related", Label: models.LabelRelation, Retrieve: true, Mode: "exact"},
			{XPath: "//Reference", Label: "reference-url"},
		},
		Emails: []models.EmailFieldDef{
			{XPath: "//Email", Label: "contact-email", Max: 2},
		},
	}))
	return registry
}

func writeRecord(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<DIF>"+body+"</DIF>"), 0644))
}

func kinds(r *models.ResourceDesc) []models.ErrorKind {
	var out []models.ErrorKind
	for _, w := range r.Warnings.All() {
		out = append(out, w.Kind())
	}
	return out
}

func TestBuild_ResourcesAndPages(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "b.xml", `<Entry_ID>B</Entry_ID>
		<Related>http://rel.example.org/x</Related>
		<Primary>http://b.example.org/</Primary>
		<Reference>http://ref.example.org/</Reference>
		<Email>pi@example.org</Email>`)
	writeRecord(t, dir, "a.xml", `<Entry_ID>A</Entry_ID><Primary>http://a.example.org/</Primary>`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.xml"), 0755))

	builder := NewBuilder(newRegistry(t), arbor.NewLogger())
	coll := &models.CollectionRecord{Key: "c1", Format: "dif", Dir: dir}

	resources, err := builder.Build(context.Background(), coll, time.Time{})
	require.NoError(t, err)
	require.Len(t, resources, 2)

	a, b := resources[0], resources[1]
	assert.Equal(t, "a.xml", a.FileName)
	assert.Equal(t, "A", a.ID)
	assert.NotZero(t, a.MetaChecksum)
	assert.Empty(t, kinds(a))

	assert.Equal(t, "B", b.ID)
	require.Len(t, b.Pages, 2, "the syntax-only reference URL is not fetched")
	assert.Equal(t, "http://b.example.org/", b.PrimaryURL(), "primary is moved to index 0")
	assert.Equal(t, models.ChecksumExact, b.Pages[1].Mode)
	assert.Same(t, b, b.Pages[1].Resource)
	assert.Empty(t, kinds(b))
}

func TestBuild_ExtractionFailureDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.xml"), []byte("<DIF><Entry_ID>"), 0644))
	writeRecord(t, dir, "good.xml", `<Entry_ID>G</Entry_ID><Primary>http://g.example.org/</Primary>`)

	builder := NewBuilder(newRegistry(t), arbor.NewLogger())
	resources, err := builder.Build(context.Background(), &models.CollectionRecord{Key: "c", Format: "dif", Dir: dir}, time.Time{})
	require.NoError(t, err)
	require.Len(t, resources, 2)

	assert.Equal(t, []models.ErrorKind{models.KindMetaParse}, kinds(resources[0]))
	assert.Equal(t, "G", resources[1].ID)
}

func TestBuild_Watermark(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "old.xml", `<Entry_ID>O</Entry_ID><Primary>http://o.example.org/</Primary>`)
	writeRecord(t, dir, "new.xml", `<Entry_ID>N</Entry_ID><Primary>http://n.example.org/</Primary>`)

	watermark := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.xml"), watermark.Add(-time.Hour), watermark.Add(-time.Hour)))

	builder := NewBuilder(newRegistry(t), arbor.NewLogger())
	resources, err := builder.Build(context.Background(), &models.CollectionRecord{Key: "c", Format: "dif", Dir: dir}, watermark)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "new.xml", resources[0].FileName)
}

func TestBuild_Errors(t *testing.T) {
	builder := NewBuilder(newRegistry(t), arbor.NewLogger())

	_, err := builder.Build(context.Background(), &models.CollectionRecord{Key: "c", Format: "nope", Dir: t.TempDir()}, time.Time{})
	assert.Error(t, err)

	_, err = builder.Build(context.Background(), &models.CollectionRecord{Key: "c", Format: "dif", Dir: filepath.Join(t.TempDir(), "missing")}, time.Time{})
	assert.Error(t, err)
}

func TestCheckID_Cardinality(t *testing.T) {
	pass := NewPass()

	none := models.NewResourceDesc("c", "dif", "/d", "none.xml")
	pass.CheckID(none, nil)
	assert.Equal(t, []models.ErrorKind{models.KindMissingField}, kinds(none))
	assert.Empty(t, none.ID)

	two := models.NewResourceDesc("c", "dif", "/d", "two.xml")
	pass.CheckID(two, []string{"X", "Y"})
	assert.Equal(t, []models.ErrorKind{models.KindTooManyFields}, kinds(two))

	one := models.NewResourceDesc("c", "dif", "/d", "one.xml")
	pass.CheckID(one, []string{"X"})
	assert.Empty(t, kinds(one))
	assert.Equal(t, "X", one.ID)
}

func TestCheckID_LengthAndDuplicates(t *testing.T) {
	pass := NewPass()

	empty := models.NewResourceDesc("c", "dif", "/d", "empty.xml")
	pass.CheckID(empty, []string{""})
	assert.Equal(t, []models.ErrorKind{models.KindIDSyntax}, kinds(empty))

	long := models.NewResourceDesc("c", "dif", "/d", "long.xml")
	id := make([]byte, 101)
	for i := range id {
		id[i] = 'x'
	}
	pass.CheckID(long, []string{string(id)})
	assert.Equal(t, []models.ErrorKind{models.KindIDSyntax}, kinds(long))

	first := models.NewResourceDesc("c", "dif", "/d", "first.xml")
	second := models.NewResourceDesc("c", "dif", "/d", "second.xml")
	pass.CheckID(first, []string{"SAME"})
	pass.CheckID(second, []string{"SAME"})

	assert.Equal(t, []models.ErrorKind{models.KindDupID}, kinds(first))
	assert.Equal(t, []models.ErrorKind{models.KindDupID}, kinds(second))
	assert.Equal(t, "second.xml", first.Warnings.All()[0].Aux())
	assert.Equal(t, "SAME", second.Warnings.All()[0].ResourceID())
}

func TestCheckURLs(t *testing.T) {
	r := models.NewResourceDesc("c", "dif", "/d", "r.xml")
	CheckURLs(r, interfaces.URLGroup{
		XPath:    "//Related",
		Label:    models.LabelRelation,
		URLs:     []string{"http://ok.example.org/a b", "http://bad.example.org/<x>", "no-scheme", "http://also.example.org/"},
		MaxCount: 3,
		Retrieve: true,
	})

	assert.Equal(t, []models.ErrorKind{models.KindTooManyFields, models.KindURLSyntax, models.KindURLSyntax}, kinds(r))
	require.Len(t, r.Pages, 2)
	assert.Equal(t, "http://ok.example.org/a b", r.Pages[0].URL, "a space is tolerated")
	assert.Equal(t, models.ChecksumStandard, r.Pages[0].Mode)

	missing := models.NewResourceDesc("c", "dif", "/d", "m.xml")
	CheckURLs(missing, interfaces.URLGroup{Label: models.LabelPrimary, MinCount: 1, Retrieve: true})
	assert.Equal(t, []models.ErrorKind{models.KindMissingField}, kinds(missing))
}

func TestCheckEmails(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"pi@example.org", true},
		{"first.last+tag@data.example.ac.uk", true},
		{"pi@example.de", true},
		{"no-at.example.org", false},
		{"two@@example.org", false},
		{"a@b@example.org", false},
		{"pi@example.notatld", false},
		{"pi@localhost", false},
		{"pi@example..org", false},
		{"p i@example.org", false},
		{"pí@example.org", false},
		{"@example.org", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.valid, emailSyntaxError(tt.addr) == "", emailSyntaxError(tt.addr))
		})
	}

	r := models.NewResourceDesc("c", "dif", "/d", "r.xml")
	CheckEmails(r, interfaces.EmailGroup{Label: "contact", Emails: []string{"ok@example.com", "bad"}, MaxCount: 1})
	assert.Equal(t, []models.ErrorKind{models.KindTooManyFields, models.KindEmailSyntax}, kinds(r))
	assert.False(t, r.Warnings.All()[1].Severe(), "email syntax is informational")
}
