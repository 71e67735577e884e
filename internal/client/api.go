package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/upload"
	"github.com/ageniuscoder/roomchat/internal/wire"
)

// API is the request/response half of the server the Window needs.
type API interface {
	Conversation(ctx context.Context, id int64) (model.Conversation, error)
	History(ctx context.Context, convID int64, limit int, before string) ([]model.Message, error)
	Send(ctx context.Context, convID int64, p wire.SendMessagePayload) (model.Message, error)
	Edit(ctx context.Context, messageID, content string) (model.Message, error)
	Upload(ctx context.Context, f upload.File) (upload.Result, error)
}

type HTTPAPI struct {
	Session Session
	HTTP    *http.Client
}

func NewHTTPAPI(s Session) *HTTPAPI {
	return &HTTPAPI{Session: s, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

type errorBody struct {
	Error json.RawMessage `json:"error"`
	Code  apperr.Code     `json:"code"`
}

// decodeError turns a non-2xx response into an *apperr.Error.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(b, &eb) == nil && len(eb.Error) > 0 {
		var s string
		if json.Unmarshal(eb.Error, &s) == nil {
			msg = s
		} else {
			msg = string(eb.Error)
		}
	}
	code := eb.Code
	if code == "" {
		code = codeForStatus(resp.StatusCode)
	}
	return apperr.New(code, msg)
}

func codeForStatus(status int) apperr.Code {
	switch status {
	case http.StatusBadRequest:
		return apperr.CodeInvalidArgument
	case http.StatusUnauthorized:
		return apperr.CodeUnauthenticated
	case http.StatusForbidden:
		return apperr.CodePermissionDenied
	case http.StatusNotFound:
		return apperr.CodeNotFound
	case http.StatusConflict:
		return apperr.CodeFailedPrecondition
	}
	return apperr.CodeInternal
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.Session.endpoint(path), body)
	if err != nil {
		return err
	}
	if a.Session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Session.Token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *HTTPAPI) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	return a.do(ctx, method, path, body, ct, out)
}

// Login exchanges credentials for a Session.
func Login(ctx context.Context, baseURL, username, password string) (Session, error) {
	a := NewHTTPAPI(Session{BaseURL: baseURL})
	var out struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	err := a.doJSON(ctx, http.MethodPost, "/login", map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return Session{}, err
	}
	return Session{BaseURL: baseURL, Token: out.Token, UserID: out.UserID}, nil
}

func (a *HTTPAPI) Conversation(ctx context.Context, id int64) (model.Conversation, error) {
	var out struct {
		Conversation model.Conversation `json:"conversation"`
	}
	err := a.doJSON(ctx, http.MethodGet, "/conversations/"+strconv.FormatInt(id, 10), nil, &out)
	return out.Conversation, err
}

func (a *HTTPAPI) History(ctx context.Context, convID int64, limit int, before string) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	p := fmt.Sprintf("/conversations/%d/messages", convID)
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	err := a.doJSON(ctx, http.MethodGet, p, nil, &out)
	return out.Messages, err
}

func (a *HTTPAPI) Send(ctx context.Context, convID int64, p wire.SendMessagePayload) (model.Message, error) {
	in := struct {
		ConversationID int64 `json:"conversation_id"`
		wire.SendMessagePayload
	}{convID, p}
	var out struct {
		Message model.Message `json:"message"`
	}
	err := a.doJSON(ctx, http.MethodPost, "/messages", in, &out)
	return out.Message, err
}

func (a *HTTPAPI) Edit(ctx context.Context, messageID, content string) (model.Message, error) {
	var out struct {
		Message model.Message `json:"message"`
	}
	err := a.doJSON(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), map[string]string{"content": content}, &out)
	return out.Message, err
}

// Upload posts f as multipart. Every failure is reported as the generic
// apperr.ErrUploadFailed.
func (a *HTTPAPI) Upload(ctx context.Context, f upload.File) (upload.Result, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	ct := f.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return upload.Result{}, apperr.ErrUploadFailed
	}
	if _, err := io.Copy(part, f.Body); err != nil {
		return upload.Result{}, apperr.ErrUploadFailed
	}
	if err := mw.Close(); err != nil {
		return upload.Result{}, apperr.ErrUploadFailed
	}
	var out upload.Result
	if err := a.do(ctx, http.MethodPost, "/uploads", &buf, mw.FormDataContentType(), &out); err != nil {
		return upload.Result{}, apperr.ErrUploadFailed
	}
	return out, nil
}
