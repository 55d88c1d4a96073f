package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// BranchRef is one local branch and the commit it currently points at.
type BranchRef struct {
	Name string
	Hash Hash
}

// ListBranches returns every local branch and its current tip. Used by
// the git monitor to detect branches created or deleted since the last
// poll.
func (r *Repository) ListBranches() ([]BranchRef, error) {
	iter, err := r.repo.NewBranchIterator(git2go.BranchLocal)
	if err != nil {
		return nil, fmt.Errorf("new branch iterator: %w", err)
	}
	defer iter.Free()

	var refs []BranchRef

	for {
		branch, _, nextErr := iter.Next()
		if nextErr != nil {
			break
		}

		name, nameErr := branch.Name()
		if nameErr != nil {
			branch.Free()
			continue
		}

		refs = append(refs, BranchRef{Name: name, Hash: HashFromOid(branch.Target())})
		branch.Free()
	}

	return refs, nil
}

// HeadBranch returns the short name of the branch HEAD currently points
// at, or empty string in a detached-HEAD state.
func (r *Repository) HeadBranch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	if !ref.IsBranch() {
		return "", nil
	}

	return ref.Branch().Name()
}
