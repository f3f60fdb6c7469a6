package github

import (
	"fmt"
	"strings"
)

// PullRequest identifies a review target. It is comparable and used as a map key.
type PullRequest struct {
	Org    string `json:"org"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// String returns the short form "org/repo#number".
func (pr PullRequest) String() string {
	return fmt.Sprintf("%s/%s#%d", pr.Org, pr.Repo, pr.Number)
}

// URL returns the web URL of the pull request on github.com.
func (pr PullRequest) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", pr.Org, pr.Repo, pr.Number)
}

// ReviewStateApproved is the review state GitHub reports for an approval.
const ReviewStateApproved = "APPROVED"

// Review is one review event on a pull request.
type Review struct {
	PR       PullRequest
	Reviewer string
	State    string
	URL      string
	ID       int64
}

// Approved reports whether the review is an approval.
func (r Review) Approved() bool {
	return strings.EqualFold(r.State, ReviewStateApproved)
}

// Permalink returns a link to the review itself, falling back to the pull request.
func (r Review) Permalink() string {
	if r.URL != "" {
		return r.URL
	}
	if r.ID != 0 {
		return fmt.Sprintf("%s#pullrequestreview-%d", r.PR.URL(), r.ID)
	}
	return r.PR.URL()
}

// Member is the subset of a GitHub user profile used for identity correlation.
type Member struct {
	Login string `json:"login"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
