package compute

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitJobSendsMultipart(t *testing.T) {
	var gotConfig JobConfig
	var gotLigand bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		protein, header, err := r.FormFile("protein")
		require.NoError(t, err)
		assert.Equal(t, "protein.pdb", header.Filename)
		data, _ := io.ReadAll(protein)
		assert.Equal(t, "ATOM", string(data))

		if _, h, err := r.FormFile("ligand"); err == nil {
			gotLigand = true
			assert.Equal(t, "ligand.sdf", h.Filename)
		}

		cfgFile, cfgHeader, err := r.FormFile("config")
		require.NoError(t, err)
		assert.Equal(t, "application/json", cfgHeader.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(cfgFile).Decode(&gotConfig))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-123"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second, srv.Client(), zap.NewNop())
	pressure := 1.0
	jobID, err := client.SubmitJob(context.Background(), JobRequest{
		Protein: []byte("ATOM"),
		Ligand:  []byte("LIG"),
		Config: JobConfig{
			Forcefield: Forcefield{Protein: "amber14-all.xml"},
			Production: Stage{TemperatureK: 300, PressureBar: &pressure, TimestepFS: 2, TimeNS: 5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-123", jobID)
	assert.True(t, gotLigand)
	assert.Equal(t, "amber14-all.xml", gotConfig.Forcefield.Protein)
	assert.Equal(t, 5.0, gotConfig.Production.TimeNS)
	require.NotNil(t, gotConfig.Production.PressureBar)
	assert.Nil(t, gotConfig.NVT.PressureBar)
}

func TestSubmitJobNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, srv.Client(), nil)
	_, err := client.SubmitJob(context.Background(), JobRequest{Protein: []byte("ATOM")})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
	assert.Equal(t, "compute API error: Service Unavailable", err.Error())
	assert.Equal(t, "compute", apiErr.Upstream())
}

func TestSubmitJobValidation(t *testing.T) {
	client := NewClient("", time.Second, nil, nil)
	_, err := client.SubmitJob(context.Background(), JobRequest{Protein: []byte("x")})
	assert.ErrorIs(t, err, ErrNotConfigured)

	client = NewClient("http://compute.invalid", time.Second, nil, nil)
	_, err = client.SubmitJob(context.Background(), JobRequest{})
	assert.ErrorIs(t, err, ErrEmptyProtein)

	_, err = client.Status(context.Background(), "a/b")
	assert.ErrorIs(t, err, ErrInvalidJobID)
}

func TestSubmitJobMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, srv.Client(), nil)
	_, err := client.SubmitJob(context.Background(), JobRequest{Protein: []byte("ATOM")})
	assert.ErrorIs(t, err, ErrMissingJobID)
}

func TestStatusAndDownload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","current_step":"NPT","progress_percent":42.5,"analysis_data":{"rmsd":[0.1,0.2]}}`))
	})
	mux.HandleFunc("/jobs/job-1/tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tarball"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, srv.Client(), nil)

	status, err := client.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)
	require.NotNil(t, status.CurrentStep)
	assert.Equal(t, "NPT", *status.CurrentStep)
	require.NotNil(t, status.ProgressPercent)
	assert.Equal(t, 42.5, *status.ProgressPercent)
	assert.Nil(t, status.Details)
	assert.JSONEq(t, `{"rmsd":[0.1,0.2]}`, string(status.AnalysisData))

	data, err := client.Download(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "tarball", string(data))

	_, err = client.Download(context.Background(), "job-2")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 20*time.Millisecond, srv.Client(), nil)
	_, err := client.Status(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
