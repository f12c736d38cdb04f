package autograd

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"autograd/internal/result"

	"github.com/gofrs/uuid"
	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/jfk9w-go/flu/logf"
	"github.com/jfk9w-go/flu/me3x"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// RequestIDHeader is echoed and logged by the autograd server.
const RequestIDHeader = "X-Request-ID"

var uploadLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// RPC is the autograd RPC client.
// Base URLs and token are fixed at creation, so a new RPC is needed when the token changes.
type RPC struct {
	baseURL    string
	serviceURL string
	token      string
	client     httpf.Client
	clock      syncf.Clock
	metrics    me3x.Registry
}

// New creates an RPC client.
// If client is nil, a new http.Client which does not follow redirects is used.
// Nil clock and metrics default to syncf.DefaultClock and a dummy registry.
func New(config Config, client httpf.Client, clock syncf.Clock, metrics me3x.Registry) (*RPC, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{
			Transport:     httpf.NewDefaultTransport(),
			CheckRedirect: keepRedirectResponse,
			Timeout:       config.Timeout.Value,
		}
	}

	if clock == nil {
		clock = syncf.DefaultClock
	}

	if metrics == nil {
		metrics = me3x.DummyRegistry{}
	}

	return &RPC{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		token:      config.Token,
		client:     client,
		clock:      clock,
		metrics:    metrics.WithPrefix("autograd"),
	}, nil
}

func (c *RPC) String() string {
	return "autograd.rpc"
}

func (c *RPC) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	logf.Get(c).Resultf(req.Context(), logf.Trace, logf.Warn, "%s [%s] => %v",
		&httpf.RequestBuilder{Request: req}, req.Header.Get(RequestIDHeader), err)
	return resp, err
}

func (c *RPC) newRequest(req *httpf.RequestBuilder) *httpf.RequestBuilder {
	return req.
		Auth(httpf.Bearer(c.token)).
		Header(RequestIDHeader, uuid.Must(uuid.NewV4()).String())
}

// SaveMedia uploads a file as multipart/form-data with "media" and "media_type" parts.
// Statuses in [200, 400) are accepted and the response body is decoded as UploadMediaResponse.
// All failures are returned as the result error, nothing is retried.
func (c *RPC) SaveMedia(ctx context.Context, req UploadMediaRequest) result.Result[UploadMediaResponse, *Error] {
	startedAt := c.clock.Now()
	r := result.MapErr(result.From[UploadMediaResponse](ctx, func(ctx context.Context) (UploadMediaResponse, error) {
		return c.saveMedia(ctx, req)
	}), asError)

	outcome := "ok"
	if !r.IsOk() {
		outcome = string(r.Err().Kind)
	}

	labels := me3x.Labels{}.
		Add("media_type", req.MediaType).
		Add("outcome", outcome)
	c.metrics.Counter("media_uploads", labels).Inc()
	c.metrics.Histogram("media_upload_seconds", labels, uploadLatencyBuckets).
		Observe(c.clock.Now().Sub(startedAt).Seconds())

	var err error
	if !r.IsOk() {
		err = r.Err()
	}

	logf.Get(c).Resultf(ctx, logf.Debug, logf.Warn, "save media %s (%s): %v", req.filename(), req.MediaType, err)
	return r
}

func (c *RPC) saveMedia(ctx context.Context, req UploadMediaRequest) (UploadMediaResponse, error) {
	if req.File == nil {
		return UploadMediaResponse{}, newError(RequestError, errors.New("media file is not set"))
	}

	// The input is opened before sending, so that unreadable files are reported as request errors.
	reader, err := req.File.Reader()
	if err != nil {
		return UploadMediaResponse{}, newError(RequestError, errors.Wrap(err, "open media file"))
	}

	media := &mediaReader{Reader: reader}
	defer flu.CloseQuietly(media)

	form := new(httpf.Form).
		Set("media_type", string(req.MediaType)).
		Multipart().
		File("media", req.filename(), flu.IO{R: media})

	var resp UploadMediaResponse
	err = c.newRequest(httpf.POST(c.baseURL+"/saveMedia", form)).
		Exchange(ctx, c).
		CatchFunc(catchTransport).
		HandleFunc(c.checkMediaStatus(ctx)).
		HandleFunc(decodeMediaResponse(&resp)).
		Error()

	if err != nil {
		return UploadMediaResponse{}, err
	}

	return resp, nil
}

// mediaReader closes the underlying reader at most once:
// both the multipart encoder and saveMedia try to close it.
type mediaReader struct {
	io.Reader
	once sync.Once
}

func (r *mediaReader) Close() (err error) {
	r.once.Do(func() { err = flu.Close(r.Reader) })
	return
}

func (c *RPC) checkMediaStatus(ctx context.Context) httpf.ResponseHandlerFunc {
	return func(resp *http.Response) error {
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest {
			return nil
		}

		var body flu.ByteBuffer
		if _, err := flu.Copy(flu.IO{R: resp.Body}, &body); err == nil {
			if reason := gjson.GetBytes(body.Bytes(), "error"); reason.Exists() {
				logf.Get(c).Debugf(ctx, "save media rejected with %d: %s", resp.StatusCode, reason.String())
			}
		}

		return &Error{
			Kind:       StatusError,
			StatusCode: resp.StatusCode,
			Message:    "Failed to save media with status " + strconv.Itoa(resp.StatusCode),
		}
	}
}

func decodeMediaResponse(resp *UploadMediaResponse) httpf.ResponseHandlerFunc {
	return func(httpResp *http.Response) error {
		if err := flu.JSON(resp).DecodeFrom(httpResp.Body); err != nil {
			return &Error{
				Kind:       ParseError,
				StatusCode: httpResp.StatusCode,
				Message:    "Failed to parse save media response: " + err.Error(),
				Cause:      err,
			}
		}

		if resp.ID == "" {
			return &Error{
				Kind:       ParseError,
				StatusCode: httpResp.StatusCode,
				Message:    "Failed to parse save media response: empty id",
			}
		}

		return nil
	}
}

// SaveMediaAll uploads files concurrently and waits for all of them.
// Results are returned in the order of requests.
func (c *RPC) SaveMediaAll(ctx context.Context, reqs ...UploadMediaRequest) []result.Result[UploadMediaResponse, *Error] {
	refs := make([]syncf.Ref[result.Result[UploadMediaResponse, error]], len(reqs))
	for i := range reqs {
		req := reqs[i]
		refs[i] = result.Async[UploadMediaResponse](ctx, func(ctx context.Context) (UploadMediaResponse, error) {
			r := c.SaveMedia(ctx, req)
			if !r.IsOk() {
				return UploadMediaResponse{}, r.Err()
			}

			return r.Value(), nil
		})
	}

	results := make([]result.Result[UploadMediaResponse, *Error], len(reqs))
	for i, ref := range refs {
		results[i] = result.MapErr(result.Await(ctx, ref), asError)
	}

	return results
}

func catchTransport(_ *http.Response, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return newError(TransportError, err)
}

func keepRedirectResponse(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
