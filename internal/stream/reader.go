package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
)

// ErrNotMJPEG ответ не является multipart/x-mixed-replace потоком
var ErrNotMJPEG = errors.New("not an mjpeg stream")

// Part кадр, прочитанный из потока
type Part struct {
	ContentType string
	// DeclaredLength значение Content-Length, -1 если заголовка нет
	DeclaredLength int
	Data           []byte
}

// Reader читает кадры MJPEG потока
type Reader struct {
	mr  *multipart.Reader
	buf bytes.Buffer
}

// BoundaryOf извлекает границу из Content-Type ответа
func BoundaryOf(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotMJPEG, err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return "", fmt.Errorf("%w: content type %q", ErrNotMJPEG, contentType)
	}
	return params["boundary"], nil
}

// NewReader создает Reader. Поток может начинаться сразу с заголовков
// первой части, без открывающей границы.
func NewReader(r io.Reader, boundary string) *Reader {
	br := bufio.NewReader(r)
	opening := "--" + boundary

	var src io.Reader = br
	if head, _ := br.Peek(len(opening)); string(head) != opening {
		src = io.MultiReader(bytes.NewReader([]byte(opening+"\r\n")), br)
	}

	return &Reader{mr: multipart.NewReader(src, boundary)}
}

// Next возвращает следующий кадр; io.EOF по окончании потока.
// Data действителен до следующего вызова Next.
func (r *Reader) Next() (Part, error) {
	part, err := r.mr.NextPart()
	if err != nil {
		return Part{}, err
	}
	defer part.Close()

	r.buf.Reset()
	if _, err := io.Copy(&r.buf, part); err != nil {
		return Part{}, fmt.Errorf("read part: %w", err)
	}

	declared := -1
	if v := part.Header.Get("Content-Length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Part{}, fmt.Errorf("invalid Content-Length %q: %w", v, err)
		}
		declared = n
	}

	return Part{
		ContentType:    part.Header.Get("Content-Type"),
		DeclaredLength: declared,
		Data:           r.buf.Bytes(),
	}, nil
}
