package nifi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"

	cerrors "cdcflow/internal/errors"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultConflictRetries  = 2
	defaultConflictInterval = 200 * time.Millisecond
)

// Client is a session against the nifi REST API. It is not safe for
// concurrent use: the bearer token is session state.
type Client struct {
	rest     *resty.Client
	baseURL  string
	clientID string

	conflictRetries  uint64
	conflictInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.rest.SetTimeout(d)
		}
	}
}

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.rest.SetTransport(rt)
	}
}

// WithConflictRetry configures how often a state change is re-attempted
// after nifi rejects it for a stale revision.
func WithConflictRetry(retries uint64, interval time.Duration) Option {
	return func(c *Client) {
		c.conflictRetries = retries
		if interval > 0 {
			c.conflictInterval = interval
		}
	}
}

// NewClient creates an unauthenticated client for the API rooted at baseURL,
// e.g. http://nifi:8080/nifi-api.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json"),
		baseURL:          baseURL,
		clientID:         "nifi-cdc-client-" + uuid.NewString(),
		conflictRetries:  defaultConflictRetries,
		conflictInterval: defaultConflictInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticate exchanges credentials for a bearer token. Any answer other
// than 201 leaves the session unauthenticated and returns
// ErrAuthenticationDeclined; the caller decides whether that is fatal.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": username,
			"password": password,
		}).
		Post("/access/token")
	if err != nil {
		return errors.Annotate(err, "request nifi access token")
	}
	if resp.StatusCode() != http.StatusCreated {
		logrus.WithField("status", resp.StatusCode()).Warn("nifi login declined")
		return cerrors.ErrAuthenticationDeclined.GenWithStackByArgs(resp.StatusCode())
	}
	c.rest.SetAuthToken(strings.TrimSpace(resp.String()))
	logrus.WithField("user", username).Debug("nifi login succeeded")
	return nil
}

// CreateProcessGroup creates a child process group under parentID.
func (c *Client) CreateProcessGroup(ctx context.Context, parentID, name string) (*Entity, error) {
	body := Entity{
		Revision: c.initialRevision(),
		Component: Component{
			Name:     name,
			Position: &Position{},
		},
	}
	return c.create(ctx, "/process-groups/"+parentID+"/process-groups", body)
}

// CreateControllerService creates a controller service inside groupID.
func (c *Client) CreateControllerService(ctx context.Context, groupID, serviceType, name string, properties map[string]string) (*Entity, error) {
	body := Entity{
		Revision: c.initialRevision(),
		Component: Component{
			Type:       serviceType,
			Name:       name,
			Properties: properties,
		},
	}
	return c.create(ctx, "/process-groups/"+groupID+"/controller-services", body)
}

// CreateProcessor creates a processor inside groupID. A nil position places
// it at the origin.
func (c *Client) CreateProcessor(ctx context.Context, groupID, processorType, name string, properties map[string]string, position *Position) (*Entity, error) {
	if position == nil {
		position = &Position{}
	}
	if properties == nil {
		properties = map[string]string{}
	}
	body := Entity{
		Revision: c.initialRevision(),
		Component: Component{
			Type:     processorType,
			Name:     name,
			Position: position,
			Config: &ProcessorConfig{
				Properties:                  properties,
				AutoTerminatedRelationships: []string{},
			},
		},
	}
	return c.create(ctx, "/process-groups/"+groupID+"/processors", body)
}

// CreateConnection routes the given relationships of sourceID into destID.
func (c *Client) CreateConnection(ctx context.Context, groupID, sourceID, destID string, relationships []string) (*Entity, error) {
	if len(relationships) == 0 {
		return nil, cerrors.ErrInvalidArgument.GenWithStackByArgs("a connection needs at least one relationship")
	}
	body := Entity{
		Revision: c.initialRevision(),
		Component: Component{
			Source: &Connectable{
				ID:      sourceID,
				GroupID: groupID,
				Type:    connectableProcessor,
			},
			Destination: &Connectable{
				ID:      destID,
				GroupID: groupID,
				Type:    connectableProcessor,
			},
			SelectedRelationships:         relationships,
			FlowFileExpiration:            defaultFlowFileExpiration,
			BackPressureDataSizeThreshold: defaultBackPressureDataSize,
			BackPressureObjectThreshold:   defaultBackPressureObjectThreshold,
		},
	}
	return c.create(ctx, "/process-groups/"+groupID+"/connections", body)
}

// EnableControllerService moves a controller service to ENABLED.
func (c *Client) EnableControllerService(ctx context.Context, id string) (*Entity, error) {
	return c.setState(ctx, "/controller-services/"+id, id, StateEnabled)
}

// StartProcessor moves a processor to RUNNING.
func (c *Client) StartProcessor(ctx context.Context, id string) (*Entity, error) {
	return c.setState(ctx, "/processors/"+id, id, StateRunning)
}

func (c *Client) GetProcessGroup(ctx context.Context, id string) (*Entity, error) {
	return c.get(ctx, "/process-groups/"+id)
}

func (c *Client) GetControllerService(ctx context.Context, id string) (*Entity, error) {
	return c.get(ctx, "/controller-services/"+id)
}

func (c *Client) GetProcessor(ctx context.Context, id string) (*Entity, error) {
	return c.get(ctx, "/processors/"+id)
}

// ListControllerServices lists the controller services scoped to a process group.
func (c *Client) ListControllerServices(ctx context.Context, groupID string) ([]Entity, error) {
	var out controllerServicesEntity
	if err := c.do(ctx, http.MethodGet, "/flow/process-groups/"+groupID+"/controller-services", nil, &out); err != nil {
		return nil, err
	}
	return out.ControllerServices, nil
}

func (c *Client) initialRevision() Revision {
	return Revision{Version: 0, ClientID: c.clientID}
}

func (c *Client) create(ctx context.Context, path string, body Entity) (*Entity, error) {
	out := &Entity{}
	if err := c.do(ctx, http.MethodPost, path, body, out); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"path": path,
		"id":   out.ResourceID(),
		"name": out.Component.Name,
	}).Debug("nifi resource created")
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) (*Entity, error) {
	out := &Entity{}
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// setState re-reads the resource for its current revision right before the
// PUT. A 409 means someone else bumped the revision in between, so the whole
// read-then-write is repeated.
func (c *Client) setState(ctx context.Context, path, id, state string) (*Entity, error) {
	var result *Entity
	op := func() error {
		current, err := c.get(ctx, path)
		if err != nil {
			return backoff.Permanent(err)
		}
		rev := current.Revision
		if rev.ClientID == "" {
			rev.ClientID = c.clientID
		}
		body := Entity{
			Revision: rev,
			Component: Component{
				ID:    id,
				State: state,
			},
		}
		out := &Entity{}
		if err := c.do(ctx, http.MethodPut, path, body, out); err != nil {
			if IsRevisionConflict(err) {
				logrus.WithFields(logrus.Fields{
					"id":       id,
					"revision": rev.Version,
				}).Warn("stale nifi revision, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		result = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conflictInterval
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.conflictRetries), ctx)); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"id":    id,
		"state": state,
	}).Debug("nifi state changed")
	return result, nil
}

// do issues one request and decodes a 2xx body into out. A non-2xx answer
// is returned as *RequestError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, c.baseURL+path)
	}
	if !resp.IsSuccess() {
		return newRequestError(method, c.baseURL+path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return cerrors.ErrDecodeResponse.GenWithStackByArgs(c.baseURL+path, err.Error())
		}
	}
	return nil
}
