package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/godo"
)

// DOClient implements the Client interface for DigitalOcean GPU droplets
type DOClient struct {
	client *godo.Client
	region string
}

// NewDOClient creates a godo-backed client
func NewDOClient(token, region string) *DOClient {
	return &DOClient{client: godo.NewFromToken(token), region: region}
}

// Describe lists droplets carrying the scoping tag (the Name tag value)
// and returns the newest non-archived one, or nil.
func (c *DOClient) Describe(ctx context.Context, tags map[string]string) (*Instance, error) {
	tag := tags["Name"]
	if tag == "" {
		return nil, fmt.Errorf("describe requires a Name tag for droplet scoping")
	}

	droplets, _, err := c.client.Droplets.ListByTag(ctx, tag, &godo.ListOptions{PerPage: 50})
	if err != nil {
		return nil, wrapDOError("describe droplets", err)
	}

	var newest *godo.Droplet
	for i := range droplets {
		d := &droplets[i]
		if d.Status == "archive" {
			continue
		}
		if newest == nil || d.Created > newest.Created {
			newest = d
		}
	}
	if newest == nil {
		return nil, nil
	}
	return doInstance(newest), nil
}

// Run creates the droplet and returns it immediately; callers poll
// Describe until it becomes active.
func (c *DOClient) Run(ctx context.Context, spec RunSpec) (*Instance, error) {
	userData, err := generateUserData(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user data: %w", err)
	}

	doTags := []string{spec.Name}
	for k, v := range spec.Tags {
		doTags = append(doTags, k+":"+v)
	}

	req := &godo.DropletCreateRequest{
		Name:     spec.Name,
		Region:   c.region,
		Size:     spec.InstanceType,
		Image:    godo.DropletCreateImage{Slug: spec.ImageID},
		UserData: userData,
		Tags:     doTags,
	}

	droplet, _, err := c.client.Droplets.Create(ctx, req)
	if err != nil {
		return nil, wrapDOError("create droplet", err)
	}
	return doInstance(droplet), nil
}

// Start powers on a stopped droplet
func (c *DOClient) Start(ctx context.Context, instanceID string) error {
	id, err := dropletID(instanceID)
	if err != nil {
		return err
	}
	_, _, err = c.client.DropletActions.PowerOn(ctx, id)
	if err != nil {
		if isDOAlreadyInState(err) {
			return nil
		}
		return wrapDOError("power on droplet", err)
	}
	return nil
}

// Stop gracefully shuts a droplet down
func (c *DOClient) Stop(ctx context.Context, instanceID string) error {
	id, err := dropletID(instanceID)
	if err != nil {
		return err
	}
	_, _, err = c.client.DropletActions.Shutdown(ctx, id)
	if err != nil {
		if isDOAlreadyInState(err) {
			return nil
		}
		return wrapDOError("shut down droplet", err)
	}
	return nil
}

// Terminate deletes the droplet; a 404 means it is already gone
func (c *DOClient) Terminate(ctx context.Context, instanceID string) error {
	id, err := dropletID(instanceID)
	if err != nil {
		return err
	}
	resp, err := c.client.Droplets.Delete(ctx, id)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return wrapDOError("delete droplet", err)
	}
	return nil
}

func dropletID(instanceID string) (int, error) {
	id, err := strconv.Atoi(instanceID)
	if err != nil {
		return 0, fmt.Errorf("invalid droplet id %q: %w", instanceID, err)
	}
	return id, nil
}

func doInstance(d *godo.Droplet) *Instance {
	ip, _ := d.PublicIPv4()
	created, _ := time.Parse(time.RFC3339, d.Created)

	tags := make(map[string]string, len(d.Tags))
	for _, t := range d.Tags {
		if k, v, ok := strings.Cut(t, ":"); ok {
			tags[k] = v
		} else {
			tags["Name"] = t
		}
	}

	zone := ""
	if d.Region != nil {
		zone = d.Region.Slug
	}
	size := d.SizeSlug

	return &Instance{
		ID:            strconv.Itoa(d.ID),
		PublicAddress: ip,
		Type:          size,
		Zone:          zone,
		Tags:          tags,
		LaunchedAt:    created,
		Status:        mapDropletStatus(d.Status),
	}
}

func mapDropletStatus(status string) Status {
	switch status {
	case "new":
		return StatusPending
	case "active":
		return StatusRunning
	case "off":
		return StatusStopped
	case "archive":
		return StatusTerminated
	default:
		return StatusPending
	}
}

// isDOAlreadyInState detects the 422 the actions API returns when the
// droplet is already powered on/off; the contract maps that to success.
func isDOAlreadyInState(err error) bool {
	var errResp *godo.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return false
	}
	return errResp.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(errResp.Message), "already")
}

func wrapDOError(op string, err error) error {
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		code := errResp.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
