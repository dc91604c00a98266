package models

import (
	"github.com/PortNumber53/creator-studio/internal/docstore"
)

// Decoders turn raw documents into validated records. The document id always
// wins over an id stored in the body.

func DecodeProfile(d docstore.Document) (Profile, error) {
	var p Profile
	err := decode(d, &p, func(p *Profile, id string) {
		if p.UID == "" {
			p.UID = id
		}
	})
	if err == nil && p.UID != d.ID {
		err = &DecodeError{Collection: d.Collection, ID: d.ID, Err: &FieldError{Field: "uid", Reason: "does not match document id"}}
	}
	return p, err
}

func DecodePost(d docstore.Document) (Post, error) {
	var p Post
	err := decode(d, &p, func(p *Post, id string) { p.ID = id })
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.Hashtags == nil {
		p.Hashtags = []string{}
	}
	return p, err
}

func DecodeContentItem(d docstore.Document) (ContentItem, error) {
	var c ContentItem
	err := decode(d, &c, func(c *ContentItem, id string) { c.ID = id })
	return c, err
}

func DecodeScheduledPost(d docstore.Document) (ScheduledPost, error) {
	var s ScheduledPost
	err := decode(d, &s, func(s *ScheduledPost, id string) { s.ID = id })
	return s, err
}

func DecodeConversation(d docstore.Document) (Conversation, error) {
	var c Conversation
	err := decode(d, &c, func(c *Conversation, id string) { c.ID = id })
	if c.UnreadCount == nil {
		c.UnreadCount = map[string]int64{}
	}
	return c, err
}

func DecodeMessage(d docstore.Document) (Message, error) {
	var m Message
	err := decode(d, &m, func(m *Message, id string) { m.ID = id })
	return m, err
}

func DecodeManager(d docstore.Document) (Manager, error) {
	var m Manager
	err := decode(d, &m, func(m *Manager, id string) { m.ID = id })
	return m, err
}

func DecodeManagerInvitation(d docstore.Document) (ManagerInvitation, error) {
	var i ManagerInvitation
	err := decode(d, &i, func(i *ManagerInvitation, id string) { i.ID = id })
	return i, err
}

func DecodeManagerApplication(d docstore.Document) (ManagerApplication, error) {
	var a ManagerApplication
	err := decode(d, &a, func(a *ManagerApplication, id string) { a.ID = id })
	return a, err
}

func DecodeAIGeneratedContent(d docstore.Document) (AIGeneratedContent, error) {
	var a AIGeneratedContent
	err := decode(d, &a, func(a *AIGeneratedContent, id string) { a.ID = id })
	return a, err
}

func DecodeUserSettings(d docstore.Document) (UserSettings, error) {
	var s UserSettings
	if err := d.DataTo(&s); err != nil {
		return UserSettings{}, &DecodeError{Collection: d.Collection, ID: d.ID, Err: err}
	}
	s.UserID = d.ID
	return s, nil
}
