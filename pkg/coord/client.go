package coord

import (
	"context"
	"fmt"

	"github.com/fedepedron/QUICK/pkg/catalog"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client fetches the device catalog from the lead.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial blocks until the lead accepts the connection or ctx is done.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	log.Infof("initiating gRPC connection to %s", addr)
	dialOpts := append([]grpc.DialOption{grpc.WithInsecure(), grpc.WithBlock()}, opts...)
	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	log.Infof("connected to %s", addr)
	return &Client{conn: conn}, nil
}

// SetToken attaches a worker token to every following call.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authenticated(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", c.token)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.authenticated(ctx), "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping returns the world size and input digest the lead runs with.
func (c *Client) Ping(ctx context.Context) (int, uint64, error) {
	out, err := c.invoke(ctx, "PingServer", &structpb.Struct{})
	if err != nil {
		return 0, 0, err
	}
	digest, err := parseDigest(out.GetFields()["digest"].GetStringValue())
	if err != nil {
		return 0, 0, err
	}
	return int(out.GetFields()["worldSize"].GetNumberValue()), digest, nil
}

// FetchDevices receives the device catalog for rank. digest identifies the
// input the worker loaded and must match the lead's.
func (c *Client) FetchDevices(ctx context.Context, rank int, digest uint64) (*catalog.Catalog, error) {
	in, err := rankRequest(rank, digest)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "GetDevices", in)
	if err != nil {
		return nil, err
	}
	return catalogFromResponse(out)
}

func (c *Client) FetchDeviceInfo(ctx context.Context, rank int) (catalog.DeviceInfo, error) {
	in, err := rankRequest(rank, 0)
	if err != nil {
		return catalog.DeviceInfo{}, err
	}
	out, err := c.invoke(ctx, "GetDeviceInfo", in)
	if err != nil {
		return catalog.DeviceInfo{}, err
	}
	return infoFromResponse(out), nil
}
