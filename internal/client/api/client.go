// Package api is a client for the proofing REST endpoints
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/goccy/go-json"
)

const (
	basePath        = "/api/v1"
	headerShareLink = "X-Share-Link"
	headerActorName = "X-Actor-Name"
)

var ErrRemote = errors.New("remote error")

// Error is a failure the server reported in its error envelope
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return ErrRemote
}

// IsStatus reports whether err is a remote error with the given HTTP status
func IsStatus(err error, code int) bool {
	var re *Error
	return errors.As(err, &re) && re.StatusCode == code
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client

	token     string
	shareLink string
	name      string
}

type Option func(*Client)

// WithToken authenticates as the bearer of token
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithShareLink authenticates as the client holding a review link
func WithShareLink(link, name string) Option {
	return func(c *Client) {
		c.shareLink = link
		c.name = name
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.shareLink != "" {
		req.Header.Set(headerShareLink, c.shareLink)
		if c.name != "" {
			req.Header.Set(headerActorName, c.name)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &Error{StatusCode: res.StatusCode, Message: res.Status}
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if res.StatusCode >= http.StatusBadRequest || env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = res.Status
		}
		return &Error{StatusCode: res.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

func p(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return basePath + fmt.Sprintf(format, args...)
}

// SignUp creates an admin account and returns its first token
func (c *Client) SignUp(ctx context.Context, name, email, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	body := models.SignupRequest{Name: name, Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, basePath+"/auth/signup", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	body := models.SigninRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, basePath+"/auth/signin", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Share is what a share link opens
type Share struct {
	Review              models.Review  `json:"review"`
	Project             models.Project `json:"project"`
	AnnotationsDisabled bool           `json:"annotationsDisabled"`
}

func (c *Client) GetShare(ctx context.Context, link string) (*Share, error) {
	var out Share
	if err := c.do(ctx, http.MethodGet, p("/share/%s", link), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project and its first review; admin only
func (c *Client) CreateProject(ctx context.Context, name string) (*models.Project, *models.Review, error) {
	var out struct {
		Project models.Project `json:"project"`
		Review  models.Review  `json:"review"`
	}
	if err := c.do(ctx, http.MethodPost, basePath+"/projects", models.CreateProjectRequest{Name: name}, &out); err != nil {
		return nil, nil, err
	}
	return &out.Project, &out.Review, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var out models.Project
	if err := c.do(ctx, http.MethodGet, p("/projects/%s", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateElement adds a file to the project's current review; admin only
func (c *Client) CreateElement(ctx context.Context, projectID, name, fileURL string) (*models.Element, error) {
	body := map[string]string{"name": name, "fileUrl": fileURL}
	var out models.Element
	if err := c.do(ctx, http.MethodPost, p("/projects/%s/elements", projectID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetElement(ctx context.Context, id string) (*models.Element, error) {
	var out models.Element
	if err := c.do(ctx, http.MethodGet, p("/elements/%s", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateElementStatus changes an element's status, storing the optional
// comment in the same transaction
func (c *Client) UpdateElementStatus(ctx context.Context, id string, req models.UpdateElementStatusRequest) (*models.Element, *models.Comment, error) {
	var out struct {
		Element models.Element  `json:"element"`
		Comment *models.Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPut, p("/elements/%s/status", id), req, &out); err != nil {
		return nil, nil, err
	}
	return &out.Element, out.Comment, nil
}

func (c *Client) GetReviewByProject(ctx context.Context, projectID string) (*models.Review, error) {
	var out models.Review
	if err := c.do(ctx, http.MethodGet, p("/projects/%s/review", projectID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateReviewStatus(ctx context.Context, id string, req models.UpdateReviewStatusRequest) (*models.Review, error) {
	var out models.Review
	if err := c.do(ctx, http.MethodPut, p("/reviews/%s/status", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAnnotations lists a project's annotations; fileID narrows to one file when set
func (c *Client) ListAnnotations(ctx context.Context, projectID, fileID string) ([]models.Annotation, error) {
	path := p("/projects/%s/annotations", projectID)
	if fileID != "" {
		path += "?" + url.Values{"fileId": {fileID}}.Encode()
	}
	var out []models.Annotation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAnnotation(ctx context.Context, req models.CreateAnnotationRequest) (*models.Annotation, error) {
	var out models.Annotation
	if err := c.do(ctx, http.MethodPost, basePath+"/annotations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateReply(ctx context.Context, req models.CreateReplyRequest) (*models.AnnotationReply, error) {
	var out models.AnnotationReply
	if err := c.do(ctx, http.MethodPost, basePath+"/annotations/reply", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateReply(ctx context.Context, id, content string) (*models.AnnotationReply, error) {
	var out models.AnnotationReply
	if err := c.do(ctx, http.MethodPut, p("/annotations/replies/%s", id), models.UpdateReplyRequest{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAnnotationStatus(ctx context.Context, id string, status models.AnnotationStatus) (*models.Annotation, error) {
	var out models.Annotation
	req := models.UpdateAnnotationStatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPut, p("/annotations/%s/status", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, p("/annotations/%s", id), nil, nil)
}

func (c *Client) ListComments(ctx context.Context, elementID string) ([]models.Comment, error) {
	var out []models.Comment
	if err := c.do(ctx, http.MethodGet, p("/elements/%s/comments", elementID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateComment(ctx context.Context, elementID string, req models.CreateCommentRequest) (*models.Comment, error) {
	var out models.Comment
	if err := c.do(ctx, http.MethodPost, p("/elements/%s/comments", elementID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateComment(ctx context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error) {
	var out models.Comment
	if err := c.do(ctx, http.MethodPut, p("/comments/%s", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, p("/comments/%s", id), nil, nil)
}

// ListActivity returns the newest journaled events of a project
func (c *Client) ListActivity(ctx context.Context, projectID string, limit int) ([]models.Activity, error) {
	path := p("/projects/%s/activity", projectID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Activity
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
