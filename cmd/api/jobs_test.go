package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/database"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) CreateJob(ctx context.Context, job *models.DownloadJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockJobStore) GetJob(ctx context.Context, id string) (*models.DownloadJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*models.DownloadJob)
	return job, args.Error(1)
}

func (m *MockJobStore) ListJobs(ctx context.Context, limit, offset int) ([]*models.DownloadJob, error) {
	args := m.Called(ctx, limit, offset)
	jobs, _ := args.Get(0).([]*models.DownloadJob)
	return jobs, args.Error(1)
}

func (m *MockJobStore) FailJob(ctx context.Context, id, errorMsg string, final bool) error {
	return m.Called(ctx, id, errorMsg, final).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJob(ctx context.Context, job *models.DownloadJob) error {
	return m.Called(ctx, job).Error(0)
}

type MockFileLinker struct {
	mock.Mock
}

func (m *MockFileLinker) PresignedURL(ctx context.Context, objectName, fileName string) (string, error) {
	args := m.Called(ctx, objectName, fileName)
	return args.String(0), args.Error(1)
}

type MockJobCache struct {
	mock.Mock
}

func (m *MockJobCache) GetJob(ctx context.Context, jobID string) (*models.DownloadJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*models.DownloadJob)
	return job, args.Error(1)
}

func (m *MockJobCache) SetJob(ctx context.Context, job *models.DownloadJob, ttl time.Duration) error {
	return m.Called(ctx, job, ttl).Error(0)
}

func newJobsAPI() (*API, *MockJobStore, *MockPublisher) {
	api := newTestAPI(&stubSource{})
	store := new(MockJobStore)
	pub := new(MockPublisher)
	api.jobs = store
	api.publisher = pub
	return api, store, pub
}

func TestCreateJob(t *testing.T) {
	api, store, pub := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	store.On("CreateJob", mock.Anything, mock.MatchedBy(func(j *models.DownloadJob) bool {
		return j.URL == videoURL && j.Format == "mp4" && j.Quality == "best" && j.Status == models.JobStatusQueued
	})).Return(nil)
	pub.On("PublishJob", mock.Anything, mock.AnythingOfType("*models.DownloadJob")).Return(nil)

	w := doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: videoURL}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var job models.DownloadJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Len(t, job.ID, 36)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreateJob_Validation(t *testing.T) {
	api, store, _ := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	w := doJSON(router, http.MethodPost, "/download/jobs", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: "ftp://example.com/x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: videoURL, CallbackURL: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything)
}

func TestCreateJob_QueueDown(t *testing.T) {
	api, store, pub := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishJob", mock.Anything, mock.Anything).Return(errors.New("channel closed"))
	store.On("FailJob", mock.Anything, mock.AnythingOfType("string"), "failed to queue job", true).Return(nil)

	w := doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: videoURL}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, decodeError(t, w).Retryable)
	store.AssertExpectations(t)
}

func TestCreateJob_RequiresToken(t *testing.T) {
	api, store, pub := newJobsAPI()
	router := setupRouter(api, routerConfig{jwtSecret: "secret"})

	w := doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: videoURL}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishJob", mock.Anything, mock.Anything).Return(nil)

	token, err := middleware.GenerateToken("secret", "client-1", time.Hour)
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	w = doJSON(router, http.MethodPost, "/download/jobs", models.CreateJobRequest{URL: videoURL}, header)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestGetJob(t *testing.T) {
	api, store, _ := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	store.On("GetJob", mock.Anything, "job-1").Return(&models.DownloadJob{ID: "job-1", Status: models.JobStatusProcessing, Progress: 40}, nil)
	store.On("GetJob", mock.Anything, "missing").Return(nil, database.ErrJobNotFound)

	w := doJSON(router, http.MethodGet, "/download/jobs/job-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job models.DownloadJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, 40.0, job.Progress)

	w = doJSON(router, http.MethodGet, "/download/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_PrefersCache(t *testing.T) {
	api, store, _ := newJobsAPI()
	cache := new(MockJobCache)
	api.jobCache = cache
	router := setupRouter(api, routerConfig{})

	cache.On("GetJob", mock.Anything, "job-1").Return(&models.DownloadJob{ID: "job-1", Status: models.JobStatusProcessing, Progress: 75}, nil)
	cache.On("GetJob", mock.Anything, "job-2").Return(nil, nil)
	done := &models.DownloadJob{ID: "job-2", Status: models.JobStatusCompleted, Progress: 100}
	store.On("GetJob", mock.Anything, "job-2").Return(done, nil)
	cache.On("SetJob", mock.Anything, done, jobCacheTTL).Return(nil)

	w := doJSON(router, http.MethodGet, "/download/jobs/job-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	store.AssertNotCalled(t, "GetJob", mock.Anything, "job-1")

	// terminal jobs read from the database are cached
	w = doJSON(router, http.MethodGet, "/download/jobs/job-2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cache.AssertExpectations(t)
}

func TestListJobs(t *testing.T) {
	api, store, _ := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	store.On("ListJobs", mock.Anything, 10, 20).Return([]*models.DownloadJob{{ID: "a"}, {ID: "b"}}, nil)

	w := doJSON(router, http.MethodGet, "/download/jobs?limit=10&offset=20", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs  []models.DownloadJob `json:"jobs"`
		Limit int                  `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, 10, resp.Limit)

	for _, q := range []string{"limit=0", "limit=101", "limit=x", "offset=-1"} {
		w = doJSON(router, http.MethodGet, "/download/jobs?"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetJobFile(t *testing.T) {
	api, store, _ := newJobsAPI()
	router := setupRouter(api, routerConfig{})

	w := doJSON(router, http.MethodGet, "/download/jobs/job-1/file", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	files := new(MockFileLinker)
	api.files = files

	store.On("GetJob", mock.Anything, "queued").Return(&models.DownloadJob{ID: "queued", Status: models.JobStatusQueued}, nil)
	store.On("GetJob", mock.Anything, "done").Return(&models.DownloadJob{
		ID:        "done",
		Status:    models.JobStatusCompleted,
		ObjectKey: "jobs/done/Clip.mp4",
	}, nil)
	files.On("PresignedURL", mock.Anything, "jobs/done/Clip.mp4", "Clip.mp4").Return("https://minio.local/signed", nil)

	w = doJSON(router, http.MethodGet, "/download/jobs/queued/file", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodGet, "/download/jobs/done/file", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://minio.local/signed", w.Header().Get("Location"))
	files.AssertExpectations(t)
}

func TestJobRoutesRequireBackends(t *testing.T) {
	router := setupRouter(newTestAPI(&stubSource{}), routerConfig{})

	w := doJSON(router, http.MethodGet, "/download/jobs", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
