package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind_Severity(t *testing.T) {
	severe := []ErrorKind{KindMetaParse, KindDupID, KindTimeout, KindNotFound, KindRedirectLimit, KindMisc}
	for _, k := range severe {
		assert.True(t, k.Severe(), k.String())
	}

	informational := []ErrorKind{KindNone, KindEmailSyntax, KindPermanentRedirect, KindDupContent, KindVitality, KindNetworkFailure}
	for _, k := range informational {
		assert.False(t, k.Severe(), k.String())
	}

	assert.False(t, severityThreshold.Valid())
	assert.False(t, kindCount.Valid())
}

func TestParseErrorKind_RoundTrip(t *testing.T) {
	for k := KindNone; k < kindCount; k++ {
		if !k.Valid() {
			continue
		}
		parsed, err := ParseErrorKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	parsed, err := ParseErrorKind(" not_found ")
	require.NoError(t, err)
	assert.Equal(t, KindNotFound, parsed)

	_, err = ParseErrorKind("NOPE")
	assert.Error(t, err)
}

func TestWarning_CopiesAreIndependent(t *testing.T) {
	base := NewWarning(KindNotFound, "not found")
	bound := base.ForResource("A", "a.xml").AtURL("//URL", LabelPrimary, "http://a/").WithAux("404")

	assert.Empty(t, base.ResourceID())
	assert.Equal(t, "A", bound.ResourceID())
	assert.Equal(t, "NOT_FOUND id=A url=http://a/: not found (404)", bound.String())
	assert.True(t, bound.Severe())
}

func TestWarnBuf_ConcurrentAdds(t *testing.T) {
	buf := NewWarnBuf()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Add(NewWarning(KindVitality, "low"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, buf.Len())
	assert.False(t, buf.HasSevere())
	assert.True(t, buf.Has(KindVitality))
	assert.Equal(t, map[ErrorKind]int{KindVitality: 20}, buf.CountByKind())
}

func TestSortWarnings(t *testing.T) {
	ws := []Warning{
		NewWarning(KindVitality, "").ForResource("B", ""),
		NewWarning(KindNotFound, "second").ForResource("A", ""),
		NewWarning(KindVitality, "").ForResource("A", ""),
		NewWarning(KindNotFound, "first").ForResource("A", ""),
	}
	SortWarnings(ws)

	assert.Equal(t, KindNotFound, ws[0].Kind())
	assert.Equal(t, "second", ws[0].Message(), "stable for ties")
	assert.Equal(t, "A", ws[2].ResourceID())
	assert.Equal(t, "B", ws[3].ResourceID())
}

func TestResourceDesc_PrimaryFirst(t *testing.T) {
	r := NewResourceDesc("sst", "dif", "/data", "a.xml")
	r.ID = "A"
	mirror := r.AddPage("//m", LabelMirror, "http://m/", ChecksumExact)
	primary := r.AddPage("//p", LabelPrimary, "http://p/", ChecksumStandard)

	require.Same(t, primary, r.Primary())
	assert.True(t, primary.IsPrimary())
	assert.False(t, mirror.IsPrimary())
	assert.Equal(t, uint64(0), r.PrimaryChecksum(), "not fetched yet")

	primary.Succeed(time.Millisecond, 42)
	mirror.Fail(KindTimeout, time.Second, "timed out", "")
	assert.Equal(t, uint64(42), r.PrimaryChecksum())

	r.HarvestPages()
	require.Equal(t, 1, r.Warnings.Len())
	w := r.Warnings.All()[0]
	assert.Equal(t, KindTimeout, w.Kind())
	assert.Equal(t, "A", w.ResourceID())
	assert.Equal(t, "http://m/", w.URL())
}

func TestMessageRecord_Warning(t *testing.T) {
	w := NewWarning(KindNameChanged, "renamed").ForResource("A", "b.xml").WithAux("a.xml")
	rec := NewMessageRecord("sst", "run_1", time.Now(), 7, w)
	assert.Equal(t, "sst|run_1|00000007", rec.Key)
	assert.False(t, rec.Severe)

	back, err := rec.Warning()
	require.NoError(t, err)
	assert.Equal(t, w, back)
}
