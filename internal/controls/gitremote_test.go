package controls

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
)

func TestCollectRefs(t *testing.T) {
	const (
		tagObject = "1111111111111111111111111111111111111111"
		tagTarget = "2222222222222222222222222222222222222222"
		mainHead  = "3333333333333333333333333333333333333333"
		lightTag  = "4444444444444444444444444444444444444444"
	)
	advertised := []*plumbing.Reference{
		plumbing.NewSymbolicReference(plumbing.HEAD, "refs/heads/main"),
		plumbing.NewHashReference("refs/heads/main", plumbing.NewHash(mainHead)),
		plumbing.NewHashReference("refs/tags/v1.0.0", plumbing.NewHash(tagObject)),
		plumbing.NewHashReference("refs/tags/v1.0.0^{}", plumbing.NewHash(tagTarget)),
		plumbing.NewHashReference("refs/tags/v0.9.0", plumbing.NewHash(lightTag)),
		plumbing.NewHashReference("refs/pull/7/head", plumbing.NewHash(lightTag)),
	}

	want := []RemoteRef{
		{Name: "main", Hash: mainHead},
		{Name: "v0.9.0", Tag: true, Hash: lightTag},
		{Name: "v1.0.0", Tag: true, Hash: tagTarget},
	}
	if diff := cmp.Diff(want, collectRefs(advertised)); diff != "" {
		t.Errorf("collectRefs mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectRefs_Empty(t *testing.T) {
	got := collectRefs(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("collectRefs(nil) = %#v, want empty slice", got)
	}
}
