package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fpang/instagram-publisher/internal/geometry"
)

// MemoryStore is an in-process Store for the local server and tests.
type MemoryStore struct {
	mu       sync.Mutex
	posts    map[string][]*Post // subjectID -> insertion-ordered posts
	subjects []string           // subject insertion order for stable ListAll
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{posts: make(map[string][]*Post)}
}

var _ Store = (*MemoryStore)(nil)

func copyPost(p *Post) *Post {
	out := *p
	out.ImageIDs = append([]string(nil), p.ImageIDs...)
	out.CropData = append([]geometry.Rect(nil), p.CropData...)
	return &out
}

func (s *MemoryStore) Add(ctx context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[post.SubjectID]; !ok {
		s.subjects = append(s.subjects, post.SubjectID)
	}
	s.posts[post.SubjectID] = append(s.posts[post.SubjectID], copyPost(post))
	return nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subjectID string) ([]*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Post, 0, len(s.posts[subjectID]))
	for _, p := range s.posts[subjectID] {
		out = append(out, copyPost(p))
	}
	return out, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Post
	for _, subjectID := range s.subjects {
		for _, p := range s.posts[subjectID] {
			cp := copyPost(p)
			cp.ParentSubjectID = subjectID
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, subjectID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := s.posts[subjectID]
	for i, p := range posts {
		if p.ID == postID {
			s.posts[subjectID] = append(posts[:i], posts[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) DueBefore(ctx context.Context, t time.Time) ([]*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Post
	cutoff := t.Unix()
	for _, subjectID := range s.subjects {
		for _, p := range s.posts[subjectID] {
			if p.ScheduleTime <= cutoff {
				out = append(out, copyPost(p))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduleTime < out[j].ScheduleTime })
	return out, nil
}
