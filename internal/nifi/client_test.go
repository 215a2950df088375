package nifi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	cerrors "cdcflow/internal/errors"
)

const testBaseURL = "http://nifi.test:8080/nifi-api"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	c := NewClient(testBaseURL+"/", WithTransport(mock), WithConflictRetry(2, time.Millisecond))
	return c, mock
}

func decodeEntity(t *testing.T, req *http.Request) Entity {
	t.Helper()
	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var e Entity
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func TestAuthenticateStoresBearerToken(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/access/token",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			require.Equal(t, "admin", req.PostForm.Get("username"))
			require.Equal(t, "secret", req.PostForm.Get("password"))
			return httpmock.NewStringResponse(http.StatusCreated, "tok-123"), nil
		})
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/process-groups/root",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, Entity{ID: "root"})
		})

	require.NoError(t, c.Authenticate(context.Background(), "admin", "secret"))
	pg, err := c.GetProcessGroup(context.Background(), "root")
	require.NoError(t, err)
	require.Equal(t, "root", pg.ResourceID())
}

func TestAuthenticateDeclinedLeavesSessionAnonymous(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/access/token",
		httpmock.NewStringResponder(http.StatusConflict, "login disabled"))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/process-groups/root",
		func(req *http.Request) (*http.Response, error) {
			require.Empty(t, req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, Entity{ID: "root"})
		})

	err := c.Authenticate(context.Background(), "admin", "wrong")
	require.Error(t, err)
	require.True(t, cerrors.ErrAuthenticationDeclined.Equal(err))

	_, err = c.GetProcessGroup(context.Background(), "root")
	require.NoError(t, err)
}

func TestCreateProcessGroup(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/process-groups/root/process-groups",
		func(req *http.Request) (*http.Response, error) {
			e := decodeEntity(t, req)
			require.Equal(t, int64(0), e.Revision.Version)
			require.NotEmpty(t, e.Revision.ClientID)
			require.Equal(t, "CDC Flow", e.Component.Name)
			require.Equal(t, &Position{}, e.Component.Position)
			return httpmock.NewJsonResponse(http.StatusCreated, Entity{
				ID:        "pg-1",
				Revision:  Revision{Version: 1},
				Component: Component{ID: "pg-1", Name: "CDC Flow"},
			})
		})

	pg, err := c.CreateProcessGroup(context.Background(), "root", "CDC Flow")
	require.NoError(t, err)
	require.Equal(t, "pg-1", pg.ResourceID())
	require.Equal(t, int64(1), pg.Revision.Version)
}

func TestCreateControllerServiceSendsProperties(t *testing.T) {
	c, mock := newTestClient(t)

	props := map[string]string{
		"Database Connection URL": "jdbc:oracle:thin:@db:1521:ORCL",
		"Password":                "tiger",
	}
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/process-groups/pg-1/controller-services",
		func(req *http.Request) (*http.Response, error) {
			e := decodeEntity(t, req)
			require.Equal(t, TypeDBCPConnectionPool, e.Component.Type)
			require.Equal(t, "src_DBCP", e.Component.Name)
			require.Equal(t, props, e.Component.Properties)
			return httpmock.NewJsonResponse(http.StatusCreated, Entity{
				ID:        "cs-1",
				Component: Component{ID: "cs-1", Name: "src_DBCP"},
			})
		})

	cs, err := c.CreateControllerService(context.Background(), "pg-1", TypeDBCPConnectionPool, "src_DBCP", props)
	require.NoError(t, err)
	require.Equal(t, "cs-1", cs.ResourceID())
}

func TestCreateProcessorDefaults(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/process-groups/pg-1/processors",
		func(req *http.Request) (*http.Response, error) {
			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{
				"revision": {"version": 0, "clientId": "`+c.clientID+`"},
				"component": {
					"type": "org.apache.nifi.processors.kite.ConvertAvroToJSON",
					"name": "Convert to JSON",
					"position": {"x": 0, "y": 0},
					"config": {"properties": {}, "autoTerminatedRelationships": []}
				}
			}`, string(raw))
			return httpmock.NewJsonResponse(http.StatusCreated, Entity{Component: Component{ID: "p-1"}})
		})

	p, err := c.CreateProcessor(context.Background(), "pg-1", TypeConvertAvroToJSON, "Convert to JSON", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "p-1", p.ResourceID())
}

func TestCreateConnection(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/process-groups/pg-1/connections",
		func(req *http.Request) (*http.Response, error) {
			e := decodeEntity(t, req)
			require.Equal(t, &Connectable{ID: "p-1", GroupID: "pg-1", Type: "PROCESSOR"}, e.Component.Source)
			require.Equal(t, &Connectable{ID: "p-2", GroupID: "pg-1", Type: "PROCESSOR"}, e.Component.Destination)
			require.Equal(t, []string{RelFailure}, e.Component.SelectedRelationships)
			require.Equal(t, "0 sec", e.Component.FlowFileExpiration)
			require.Equal(t, "1 GB", e.Component.BackPressureDataSizeThreshold)
			require.Equal(t, "10000", e.Component.BackPressureObjectThreshold)
			return httpmock.NewJsonResponse(http.StatusCreated, Entity{ID: "conn-1"})
		})

	conn, err := c.CreateConnection(context.Background(), "pg-1", "p-1", "p-2", []string{RelFailure})
	require.NoError(t, err)
	require.Equal(t, "conn-1", conn.ResourceID())
}

func TestCreateConnectionRequiresRelationship(t *testing.T) {
	c, mock := newTestClient(t)

	_, err := c.CreateConnection(context.Background(), "pg-1", "p-1", "p-2", nil)
	require.True(t, cerrors.ErrInvalidArgument.Equal(err))
	require.Zero(t, mock.GetTotalCallCount())
}

func TestEnableControllerServiceUsesFreshRevision(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/controller-services/cs-1",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, Entity{
			ID:        "cs-1",
			Revision:  Revision{Version: 7, ClientID: "someone-else"},
			Component: Component{ID: "cs-1", State: "DISABLED"},
		}))
	mock.RegisterResponder(http.MethodPut, testBaseURL+"/controller-services/cs-1",
		func(req *http.Request) (*http.Response, error) {
			e := decodeEntity(t, req)
			require.Equal(t, int64(7), e.Revision.Version)
			require.Equal(t, "someone-else", e.Revision.ClientID)
			require.Equal(t, "cs-1", e.Component.ID)
			require.Equal(t, StateEnabled, e.Component.State)
			return httpmock.NewJsonResponse(http.StatusOK, Entity{
				ID:        "cs-1",
				Revision:  Revision{Version: 8},
				Component: Component{ID: "cs-1", State: "ENABLING"},
			})
		})

	cs, err := c.EnableControllerService(context.Background(), "cs-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), cs.Revision.Version)

	calls := mock.GetCallCountInfo()
	require.Equal(t, 1, calls["GET "+testBaseURL+"/controller-services/cs-1"])
	require.Equal(t, 1, calls["PUT "+testBaseURL+"/controller-services/cs-1"])
}

func TestStartProcessorRetriesOnRevisionConflict(t *testing.T) {
	c, mock := newTestClient(t)

	version := int64(3)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/processors/p-1",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(http.StatusOK, Entity{
				ID:       "p-1",
				Revision: Revision{Version: version},
			})
		})
	puts := 0
	mock.RegisterResponder(http.MethodPut, testBaseURL+"/processors/p-1",
		func(req *http.Request) (*http.Response, error) {
			puts++
			e := decodeEntity(t, req)
			require.Equal(t, StateRunning, e.Component.State)
			if puts == 1 {
				require.Equal(t, int64(3), e.Revision.Version)
				version = 4
				return httpmock.NewStringResponse(http.StatusConflict, "revision mismatch"), nil
			}
			require.Equal(t, int64(4), e.Revision.Version)
			return httpmock.NewJsonResponse(http.StatusOK, Entity{
				ID:        "p-1",
				Revision:  Revision{Version: 5},
				Component: Component{ID: "p-1", State: StateRunning},
			})
		})

	p, err := c.StartProcessor(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, StateRunning, p.Component.State)
	require.Equal(t, 2, puts)
	require.Equal(t, 2, mock.GetCallCountInfo()["GET "+testBaseURL+"/processors/p-1"])
}

func TestStartProcessorGivesUpAfterConflicts(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/processors/p-1",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, Entity{ID: "p-1"}))
	mock.RegisterResponder(http.MethodPut, testBaseURL+"/processors/p-1",
		httpmock.NewStringResponder(http.StatusConflict, "revision mismatch"))

	_, err := c.StartProcessor(context.Background(), "p-1")
	require.True(t, cerrors.ErrRemoteRequestFailed.Equal(err))
	require.True(t, IsRevisionConflict(err))
	require.Equal(t, 3, mock.GetCallCountInfo()["PUT "+testBaseURL+"/processors/p-1"])
}

func TestServerErrorIsNotRetried(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/processors/p-1",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, Entity{ID: "p-1"}))
	mock.RegisterResponder(http.MethodPut, testBaseURL+"/processors/p-1",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := c.StartProcessor(context.Background(), "p-1")
	require.True(t, cerrors.ErrRemoteRequestFailed.Equal(err))
	require.Contains(t, err.Error(), "status 500")
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, 1, mock.GetCallCountInfo()["PUT "+testBaseURL+"/processors/p-1"])
}

func TestRequestErrorCarriesResponse(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/process-groups/root/process-groups",
		httpmock.NewStringResponder(http.StatusBadRequest, " name is required \n"))

	_, err := c.CreateProcessGroup(context.Background(), "root", "")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, stderrors.As(errors.Annotate(err, "create process group"), &reqErr))
	require.Equal(t, http.MethodPost, reqErr.Method)
	require.Equal(t, testBaseURL+"/process-groups/root/process-groups", reqErr.URL)
	require.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	require.Equal(t, "name is required", reqErr.Body)

	require.Equal(t, http.StatusBadRequest, StatusCode(errors.Trace(err)))
	require.False(t, IsRevisionConflict(err))
	require.True(t, stderrors.Is(err, cerrors.ErrRemoteRequestFailed))
	require.True(t, cerrors.ErrRemoteRequestFailed.Equal(errors.Annotate(err, "wrapped")))
	require.False(t, cerrors.ErrDecodeResponse.Equal(err))
}

func TestStatusCodeOfOtherErrors(t *testing.T) {
	require.Zero(t, StatusCode(nil))
	require.Zero(t, StatusCode(cerrors.ErrDecodeResponse.GenWithStackByArgs("u", "bad")))
	require.True(t, IsRevisionConflict(newRequestError(http.MethodPut, "u", http.StatusConflict, "")))
}

func TestListControllerServices(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/flow/process-groups/pg-1/controller-services",
		httpmock.NewStringResponder(http.StatusOK, `{"controllerServices":[
			{"id":"cs-1","component":{"id":"cs-1","name":"src_DBCP","state":"ENABLED"}},
			{"id":"cs-2","component":{"id":"cs-2","name":"dst_DBCP","state":"INVALID","validationErrors":["bad url"]}}
		]}`))

	services, err := c.ListControllerServices(context.Background(), "pg-1")
	require.NoError(t, err)
	require.Len(t, services, 2)
	require.Equal(t, "src_DBCP", services[0].Component.Name)
	require.Equal(t, []string{"bad url"}, services[1].Component.ValidationErrors)
}

func TestUndecodableResponse(t *testing.T) {
	c, mock := newTestClient(t)

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/process-groups/pg-1",
		httpmock.NewStringResponder(http.StatusOK, "<html>"))

	_, err := c.GetProcessGroup(context.Background(), "pg-1")
	require.True(t, cerrors.ErrDecodeResponse.Equal(err))
}

func TestGetProcessorAndGroup(t *testing.T) {
	c, mock := newTestClient(t)
	require.Equal(t, testBaseURL, c.BaseURL())

	mock.RegisterResponder(http.MethodGet, testBaseURL+"/processors/p-1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"id":"p-1","revision":{"version":3},"component":{"id":"p-1","name":"Extract CDC Data","state":"RUNNING"}}`))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/process-groups/pg-1",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"pg-1","component":{"id":"pg-1","name":"CDC Flow"}}`))

	p, err := c.GetProcessor(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), p.Revision.Version)
	require.Equal(t, StateRunning, p.Component.State)

	pg, err := c.GetProcessGroup(context.Background(), "pg-1")
	require.NoError(t, err)
	require.Equal(t, "CDC Flow", pg.Component.Name)
}
