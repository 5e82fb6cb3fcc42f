package model

import (
	"errors"

	"github.com/jacentio/lattice/store"
)

// Post is authored by exactly one user.
type Post struct {
	ID      string `dynamodbav:"id" json:"id" yaml:"id"`
	Title   string `dynamodbav:"title" json:"title" yaml:"title"`
	Content string `dynamodbav:"content" json:"content" yaml:"content"`
	UserID  string `dynamodbav:"user_id" json:"userId" yaml:"user_id"`
	Version int64  `dynamodbav:"version" json:"version" yaml:"-"`
}

func (p Post) GetID() string     { return p.ID }
func (p Post) GetVersion() int64 { return p.Version }

// CreatePostInput is the payload for creating a post.
type CreatePostInput struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
	UserID  string `json:"userId" yaml:"user_id"`
}

// PostPatch changes a post. The author can't be changed.
type PostPatch struct {
	Title   *string `json:"title,omitempty" yaml:"title"`
	Content *string `json:"content,omitempty" yaml:"content"`
}

// PostSchema describes the post kind.
func PostSchema() store.Schema[Post, CreatePostInput, PostPatch] {
	return store.Schema[Post, CreatePostInput, PostPatch]{
		Table: TablePosts,
		Type:  TypePost,
		New: func(id string, in CreatePostInput) Post {
			return Post{ID: id, Title: in.Title, Content: in.Content, UserID: in.UserID}
		},
		Merge: func(cur Post, p PostPatch) Post {
			if p.Title != nil {
				cur.Title = *p.Title
			}
			if p.Content != nil {
				cur.Content = *p.Content
			}
			return cur
		},
		Validate: func(in CreatePostInput) error {
			if in.UserID == "" {
				return errors.New("post requires a user id")
			}
			return nil
		},
		Immutable: []string{AttrUserID},
	}
}
