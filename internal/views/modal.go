package views

import (
	"fmt"

	"github.com/victorivanov/readreceipts/internal/models"
)

// ModalProps are the inputs of the readers modal of one post.
type ModalProps struct {
	PostID     string
	ChannelID  string
	Readers    []models.UserProfile
	TotalCount int
	IsLoading  bool
}

// ReaderRow is one line of the readers list.
type ReaderRow struct {
	UserID      string
	DisplayName string
	Handle      string
}

// ModalView is what the readers modal displays. Exactly one of Loading,
// Empty or a non-empty Rows applies.
type ModalView struct {
	Title        string
	Loading      bool
	Empty        bool
	EmptyText    string
	Rows         []ReaderRow
	Overflow     int
	OverflowText string
}

// RenderModal derives the readers modal view.
func RenderModal(p ModalProps) ModalView {
	total := p.TotalCount
	if total < len(p.Readers) {
		total = len(p.Readers)
	}

	view := ModalView{Title: readByTitle(total)}
	switch {
	case p.IsLoading:
		view.Loading = true
	case len(p.Readers) == 0:
		view.Empty = true
		view.EmptyText = "No one has read this message yet"
	default:
		view.Rows = make([]ReaderRow, 0, len(p.Readers))
		for _, u := range p.Readers {
			view.Rows = append(view.Rows, ReaderRow{
				UserID:      u.ID,
				DisplayName: displayName(u),
				Handle:      "@" + u.Username,
			})
		}
		if more := total - len(p.Readers); more > 0 {
			view.Overflow = more
			view.OverflowText = fmt.Sprintf("and %d more...", more)
		}
	}
	return view
}

// ModalPropsFromReaders builds modal props from a readers response. A nil
// response yields an empty list.
func ModalPropsFromReaders(postID, channelID string, readers *models.PostReaders, loading bool) ModalProps {
	props := ModalProps{PostID: postID, ChannelID: channelID, IsLoading: loading}
	if readers != nil {
		props.Readers = readers.Readers
		props.TotalCount = readers.Count
	}
	return props
}

func readByTitle(n int) string {
	if n == 1 {
		return "Read by 1 person"
	}
	return fmt.Sprintf("Read by %d people", n)
}

func displayName(u models.UserProfile) string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}
