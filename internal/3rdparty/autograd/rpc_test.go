package autograd_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"autograd/internal/3rdparty/autograd"
	"autograd/internal/autogradtest"
	"autograd/internal/result"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/me3x"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "s3cr3t"

func getContext() (context.Context, func()) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func newRPC(t *testing.T, server *autogradtest.Server) *autograd.RPC {
	return newRPCWithMetrics(t, server, me3x.DummyRegistry{Log: true})
}

func newRPCWithMetrics(t *testing.T, server *autogradtest.Server, metrics me3x.Registry) *autograd.RPC {
	rpc, err := autograd.New(autograd.Config{
		BaseURL:    server.BaseURL(),
		ServiceURL: server.ServiceURL(),
		Token:      token,
	}, nil, nil, metrics)
	require.Nil(t, err)
	return rpc
}

func caseInput(content string) autograd.UploadMediaRequest {
	return autograd.UploadMediaRequest{
		File:      flu.Bytes(content),
		Filename:  "input.txt",
		MediaType: autograd.AssignmentCaseInput,
	}
}

func TestRPC_SaveMedia(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	r := newRPC(t, server).SaveMedia(ctx, caseInput("1 2\n"))
	require.True(t, r.IsOk(), "%v", r)

	media, ok := server.Media(r.Value().ID)
	require.True(t, ok)
	assert.Equal(t, "input.txt", media.Filename)
	assert.Equal(t, "assignment_case_input", media.MediaType)
	assert.Equal(t, []byte("1 2\n"), media.Content)
	assert.Equal(t, "Bearer "+token, media.Auth)
	assert.NotEmpty(t, media.RequestID)
}

func TestRPC_SaveMedia_FilenameFromFile(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "expected_output.txt")
	require.Nil(t, os.WriteFile(path, []byte("3\n"), 0644))

	r := newRPC(t, server).SaveMedia(ctx, autograd.UploadMediaRequest{
		File:      flu.File(path),
		MediaType: autograd.AssignmentCaseOutput,
	})

	require.True(t, r.IsOk(), "%v", r)
	media, ok := server.Media(r.Value().ID)
	require.True(t, ok)
	assert.Equal(t, "expected_output.txt", media.Filename)
	assert.Equal(t, "assignment_case_output", media.MediaType)
	assert.Equal(t, []byte("3\n"), media.Content)
}

func TestRPC_SaveMedia_Status(t *testing.T) {
	for _, tc := range []struct {
		name    string
		resp    autogradtest.Response
		id      string
		kind    autograd.ErrorKind
		status  int
		message string
		outcome string
	}{
		{
			name:    "created",
			resp:    autogradtest.Response{Status: http.StatusCreated, Body: `{"id":"abc123"}`},
			id:      "abc123",
			outcome: "ok",
		},
		{
			name:    "ok",
			resp:    autogradtest.Response{Status: http.StatusOK, Body: `{"id":"abc123"}`},
			id:      "abc123",
			outcome: "ok",
		},
		{
			// 3xx responses are accepted as is and never followed.
			name:    "found",
			resp:    autogradtest.Response{Status: http.StatusFound, Body: `{"id":"abc123"}`},
			id:      "abc123",
			outcome: "ok",
		},
		{
			name:    "internal server error",
			resp:    autogradtest.Response{Status: http.StatusInternalServerError, Body: "system error", ContentType: "text/plain"},
			kind:    autograd.StatusError,
			status:  http.StatusInternalServerError,
			message: "Failed to save media with status 500",
			outcome: "status",
		},
		{
			name:    "bad request",
			resp:    autogradtest.Response{Status: http.StatusBadRequest, Body: `{"error":"invalid media type"}`},
			kind:    autograd.StatusError,
			status:  http.StatusBadRequest,
			message: "Failed to save media with status 400",
			outcome: "status",
		},
		{
			name:    "malformed body",
			resp:    autogradtest.Response{Status: http.StatusCreated, Body: "<html></html>", ContentType: "text/html"},
			kind:    autograd.ParseError,
			status:  http.StatusCreated,
			outcome: "parse",
		},
		{
			name:    "empty id",
			resp:    autogradtest.Response{Status: http.StatusCreated, Body: `{}`},
			kind:    autograd.ParseError,
			status:  http.StatusCreated,
			message: "Failed to parse save media response: empty id",
			outcome: "parse",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := getContext()
			defer cancel()

			server := autogradtest.NewServer(token)
			defer server.Close()
			server.Force(tc.resp)

			metrics := newMetricsRecorder()
			r := newRPCWithMetrics(t, server, metrics).SaveMedia(ctx, caseInput("1 2\n"))
			assert.Len(t, server.Received(), 1)
			metrics.assertUpload(t, "assignment_case_input", tc.outcome)
			if tc.kind == "" {
				require.True(t, r.IsOk(), "%v", r)
				assert.Equal(t, tc.id, r.Value().ID)
				return
			}

			require.False(t, r.IsOk())
			err := r.Err()
			assert.Equal(t, tc.kind, err.Kind)
			assert.Equal(t, tc.status, err.StatusCode)
			if tc.message != "" {
				assert.Equal(t, tc.message, err.Error())
			}
		})
	}
}

func TestRPC_SaveMedia_RedirectNotFollowed(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()
	server.Force(autogradtest.Response{
		Status:   http.StatusSeeOther,
		Body:     `{"id":"abc123"}`,
		Location: server.URL + "/elsewhere",
	})

	r := newRPC(t, server).SaveMedia(ctx, caseInput("1 2\n"))
	require.True(t, r.IsOk(), "%v", r)
	assert.Equal(t, "abc123", r.Value().ID)
	assert.Len(t, server.Received(), 1)
}

func TestRPC_SaveMedia_Unauthorized(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	rpc, err := autograd.New(autograd.Config{BaseURL: server.BaseURL(), Token: "expired"}, nil, nil, nil)
	require.Nil(t, err)

	r := rpc.SaveMedia(ctx, caseInput("1 2\n"))
	require.False(t, r.IsOk())
	assert.Equal(t, autograd.StatusError, r.Err().Kind)
	assert.Equal(t, "Failed to save media with status 401", r.Err().Error())
	assert.Empty(t, server.Received())
}

func TestRPC_SaveMedia_TransportError(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	rpc := newRPC(t, server)
	server.Close()

	var r result.Result[autograd.UploadMediaResponse, *autograd.Error]
	assert.NotPanics(t, func() { r = rpc.SaveMedia(ctx, caseInput("1 2\n")) })
	require.False(t, r.IsOk())
	assert.Equal(t, autograd.TransportError, r.Err().Kind)
	assert.Zero(t, r.Err().StatusCode)
	assert.NotEmpty(t, r.Err().Error())
}

func TestRPC_SaveMedia_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	r := newRPC(t, server).SaveMedia(ctx, caseInput("1 2\n"))
	require.False(t, r.IsOk())
	assert.Equal(t, autograd.TransportError, r.Err().Kind)
}

func TestRPC_SaveMedia_RequestError(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	rpc := newRPC(t, server)
	for _, req := range []autograd.UploadMediaRequest{
		{MediaType: autograd.Submission},
		{File: flu.File(filepath.Join(t.TempDir(), "missing.go")), MediaType: autograd.Submission},
	} {
		r := rpc.SaveMedia(ctx, req)
		require.False(t, r.IsOk())
		assert.Equal(t, autograd.RequestError, r.Err().Kind)
	}

	assert.Empty(t, server.Received())
}

func TestRPC_SaveMediaAll(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	rpc := newRPC(t, server)
	results := rpc.SaveMediaAll(ctx,
		autograd.UploadMediaRequest{File: flu.Bytes("1 2\n"), Filename: "input.txt", MediaType: autograd.AssignmentCaseInput},
		autograd.UploadMediaRequest{File: flu.Bytes("3\n"), Filename: "output.txt", MediaType: autograd.AssignmentCaseOutput},
		autograd.UploadMediaRequest{MediaType: autograd.Submission},
	)

	require.Len(t, results, 3)
	require.True(t, results[0].IsOk(), "%v", results[0])
	require.True(t, results[1].IsOk(), "%v", results[1])
	assert.NotEqual(t, results[0].Value().ID, results[1].Value().ID)

	input, ok := server.Media(results[0].Value().ID)
	require.True(t, ok)
	assert.Equal(t, []byte("1 2\n"), input.Content)
	assert.Equal(t, "assignment_case_input", input.MediaType)

	output, ok := server.Media(results[1].Value().ID)
	require.True(t, ok)
	assert.Equal(t, []byte("3\n"), output.Content)
	assert.Equal(t, "assignment_case_output", output.MediaType)

	require.False(t, results[2].IsOk())
	assert.Equal(t, autograd.RequestError, results[2].Err().Kind)
}

func TestRPC_SaveMedia_Concurrent(t *testing.T) {
	ctx, cancel := getContext()
	defer cancel()

	server := autogradtest.NewServer(token)
	defer server.Close()

	rpc := newRPC(t, server)
	reqs := make([]autograd.UploadMediaRequest, 16)
	for i := range reqs {
		reqs[i] = caseInput(strconv.Itoa(i))
	}

	ids := make(map[string]bool)
	for i, r := range rpc.SaveMediaAll(ctx, reqs...) {
		require.True(t, r.IsOk(), "%v", r)
		media, ok := server.Media(r.Value().ID)
		require.True(t, ok)
		assert.Equal(t, []byte(strconv.Itoa(i)), media.Content)
		ids[r.Value().ID] = true
	}

	assert.Len(t, ids, len(reqs))
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, config := range []autograd.Config{
		{},
		{BaseURL: "not a url"},
		{BaseURL: "http://localhost:8080/api/v1/rpc", ServiceURL: "grpc"},
	} {
		_, err := autograd.New(config, nil, nil, nil)
		assert.NotNil(t, err, "%+v", config)
	}
}

func TestMediaType_Valid(t *testing.T) {
	for _, mediaType := range autograd.MediaTypes {
		assert.True(t, mediaType.Valid())
	}

	assert.False(t, autograd.MediaType("avatar").Valid())
}
