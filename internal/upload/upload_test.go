package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	k := NewKey(7, "Photo.JPG")
	assert.True(t, strings.HasPrefix(k, "uploads/7/"))
	assert.True(t, strings.HasSuffix(k, ".jpg"))
	assert.True(t, validKey(k))
	assert.False(t, validKey("uploads/../etc/passwd"))
	assert.False(t, validKey("/uploads/x"))
}

func TestDiskGateway(t *testing.T) {
	dir := t.TempDir()
	g := DiskGateway{Dir: dir, BaseURL: "http://localhost/files/"}
	ctx := context.Background()

	url, err := g.Upload(ctx, File{Name: "a.txt", Body: strings.NewReader("hello")}, "uploads/1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/files/uploads/1/a.txt", url)
	b, err := os.ReadFile(filepath.Join(dir, "uploads", "1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, g.Delete(ctx, "uploads/1/a.txt"))
	require.NoError(t, g.Delete(ctx, "uploads/1/a.txt"), "deleting twice is fine")
	_, err = g.Upload(ctx, File{Body: strings.NewReader("x")}, "../escape")
	assert.Error(t, err)
}

type fakeS3 struct {
	put    *s3.PutObjectInput
	body   []byte
	delKey string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.delKey = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, f.err
}

func TestS3Gateway(t *testing.T) {
	fake := &fakeS3{}
	g := &S3Gateway{Client: fake, Bucket: "b", BaseURL: "https://cdn.example.com"}
	ctx := context.Background()

	url, err := g.Upload(ctx, File{Name: "x.png", Size: 3, MimeType: "image/png", Body: strings.NewReader("png")}, "uploads/2/x.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/2/x.png", url)
	assert.Equal(t, "b", aws.ToString(fake.put.Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.put.ContentType))
	assert.Equal(t, []byte("png"), fake.body)

	require.NoError(t, g.Delete(ctx, "uploads/2/x.png"))
	assert.Equal(t, "uploads/2/x.png", fake.delKey)
}

func multipartBody(t *testing.T, name, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fake := &fakeS3{}
	svc := &Service{Gateway: &S3Gateway{Client: fake, Bucket: "b", BaseURL: "https://cdn"}, MaxBytes: 1 << 20}
	r := gin.New()
	Register(r.Group("/api", auth.JWTMiddleware("s")), svc)
	tok, _ := auth.NewToken("s", 5, 5)

	do := func(req *http.Request) *httptest.ResponseRecorder {
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	body, ct := multipartBody(t, "clip.mp4", "video/mp4", "data")
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	w := do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"type":"`+string(model.TypeVideo)+`"`)
	key := aws.ToString(fake.put.Key)
	assert.True(t, strings.HasPrefix(key, "uploads/5/"))

	w = do(httptest.NewRequest(http.MethodDelete, "/api/uploads/uploads/6/other.png", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(httptest.NewRequest(http.MethodDelete, "/api/uploads/"+key, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	fake.err = errors.New("access denied")
	body, ct = multipartBody(t, "a.bin", "application/octet-stream", "x")
	req = httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	w = do(req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "upload failed")
	assert.NotContains(t, w.Body.String(), "access denied")
}

func TestMimeOf(t *testing.T) {
	assert.Equal(t, "image/png", mimeOf("image/png", "x"))
	assert.Equal(t, "image/jpeg", mimeOf("application/octet-stream", "x.jpg"))
	assert.Equal(t, "application/octet-stream", mimeOf("", "noext"))
}
