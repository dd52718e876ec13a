package quill

import "errors"

var (
	// ErrInvalidBookID is returned for book ids that are not positive.
	ErrInvalidBookID = errors.New("invalid book id")
	// ErrInvalidChapter is returned for chapter numbers that are not positive.
	ErrInvalidChapter = errors.New("invalid chapter number")
	// ErrInvalidConfig is returned when a BookConfig fails local validation.
	ErrInvalidConfig = errors.New("invalid book configuration")
)

func checkBook(bookID int) error {
	if bookID <= 0 {
		return ErrInvalidBookID
	}
	return nil
}

func checkChapter(bookID, chapterNumber int) error {
	if err := checkBook(bookID); err != nil {
		return err
	}
	if chapterNumber <= 0 {
		return ErrInvalidChapter
	}
	return nil
}
