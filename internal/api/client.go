package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// Client talks to a remote Repository over gRPC. Errors reported by the
// server are returned as *RemoteError.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without TLS. Extra options are applied after the
// defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) FetchSchema(ctx context.Context, id model.DatabaseID) (*model.Schema, error) {
	var resp SchemaResponse
	if err := c.invoke(ctx, "FetchSchema", &SchemaRequest{ID: string(id)}, &resp); err != nil {
		return nil, err
	}
	if err := remoteError(resp.Code, resp.Error); err != nil {
		return nil, err
	}
	return resp.Schema, nil
}

func (c *Client) RunQuery(ctx context.Context, id model.DatabaseID, stmt model.Statement) (*model.ResultSet, error) {
	var resp QueryResponse
	if err := c.invoke(ctx, "Query", &QueryRequest{ID: string(id), SQL: stmt.SQL, Params: stmt.Params}, &resp); err != nil {
		return nil, err
	}
	if err := remoteError(resp.Code, resp.Error); err != nil {
		return nil, err
	}
	return normalizeResult(resp.Result), nil
}

func (c *Client) ExecuteStatement(ctx context.Context, id model.DatabaseID, stmt model.Statement) error {
	var resp ExecResponse
	if err := c.invoke(ctx, "Exec", &ExecRequest{ID: string(id), SQL: stmt.SQL, Params: stmt.Params}, &resp); err != nil {
		return err
	}
	return remoteError(resp.Code, resp.Error)
}

func (c *Client) UpdateTable(ctx context.Context, id model.DatabaseID, table model.Table, row model.Row, column string, value model.Value) error {
	req := &UpdateRequest{ID: string(id), Table: table, Row: row, Column: column, Value: value}
	var resp ExecResponse
	if err := c.invoke(ctx, "Update", req, &resp); err != nil {
		return err
	}
	return remoteError(resp.Code, resp.Error)
}

func (c *Client) CloseConnection(ctx context.Context, id model.DatabaseID) error {
	var resp ExecResponse
	if err := c.invoke(ctx, "Close", &CloseRequest{ID: string(id)}, &resp); err != nil {
		return err
	}
	return remoteError(resp.Code, resp.Error)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}
