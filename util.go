package quill

import "strconv"

func itoa(v int) string {
	return strconv.Itoa(v)
}

func bookPath(bookID int) string {
	return "/api/books/" + itoa(bookID)
}

func chapterPath(bookID, chapterNumber int) string {
	return bookPath(bookID) + "/chapters/" + itoa(chapterNumber)
}
