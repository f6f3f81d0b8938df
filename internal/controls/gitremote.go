package controls

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// peeledSuffix marks the commit an annotated tag points at in a ref
// advertisement.
const peeledSuffix = "^{}"

// GitRemoteLister lists references over the git protocol without cloning.
type GitRemoteLister struct{}

// NewGitRemoteLister returns the go-git backed RemoteLister.
func NewGitRemoteLister() *GitRemoteLister {
	return &GitRemoteLister{}
}

// ListRefs returns branches and tags of repoURL. Annotated tags are
// reported with the hash of the commit they point at.
func (GitRemoteLister) ListRefs(ctx context.Context, repoURL string) ([]RemoteRef, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	advertised, err := remote.ListContext(ctx, &git.ListOptions{PeelingOption: git.AppendPeeled})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", repoURL, err)
	}
	return collectRefs(advertised), nil
}

// collectRefs folds peeled entries into their tags and sorts by name.
func collectRefs(advertised []*plumbing.Reference) []RemoteRef {
	byName := make(map[string]RemoteRef)
	peeled := make(map[string]string)
	for _, ref := range advertised {
		if ref.Type() != plumbing.HashReference {
			continue
		}
		full := ref.Name().String()
		if strings.HasSuffix(full, peeledSuffix) {
			peeled[strings.TrimSuffix(full, peeledSuffix)] = ref.Hash().String()
			continue
		}
		name := ref.Name()
		if !name.IsTag() && !name.IsBranch() {
			continue
		}
		byName[full] = RemoteRef{Name: name.Short(), Tag: name.IsTag(), Hash: ref.Hash().String()}
	}

	out := make([]RemoteRef, 0, len(byName))
	for full, ref := range byName {
		if h, ok := peeled[full]; ok {
			ref.Hash = h
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
