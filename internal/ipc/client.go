package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// ServiceName is the RPC service the daemon registers.
const ServiceName = "Stagewise"

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Fire runs one fire cycle on the daemon.
func (c *Client) Fire() (*FireResponse, error) {
	return call[FireRequest, FireResponse](c, "Fire", FireRequest{})
}

// Suspend requests suspension of in-flight tasks.
func (c *Client) Suspend(ids []int64) (*SuspendResponse, error) {
	return call[SuspendRequest, SuspendResponse](c, "Suspend", SuspendRequest{IDs: ids})
}

// Resume queues suspended or failed tasks to continue.
func (c *Client) Resume(ids []int64) (*ResumeResponse, error) {
	return call[ResumeRequest, ResumeResponse](c, "Resume", ResumeRequest{IDs: ids})
}

// TaskAdd enqueues a task.
func (c *Client) TaskAdd(kind, payload string) (*TaskAddResponse, error) {
	return call[TaskAddRequest, TaskAddResponse](c, "TaskAdd", TaskAddRequest{Kind: kind, Payload: payload})
}

// TaskList returns tasks optionally filtered by statuses.
func (c *Client) TaskList(statuses []string) (*TaskListResponse, error) {
	return call[TaskListRequest, TaskListResponse](c, "TaskList", TaskListRequest{Statuses: statuses})
}

// TaskShow returns details for a single task.
func (c *Client) TaskShow(id int64) (*TaskShowResponse, error) {
	return call[TaskShowRequest, TaskShowResponse](c, "TaskShow", TaskShowRequest{ID: id})
}

// TaskRemove deletes tasks that are not in flight.
func (c *Client) TaskRemove(ids []int64) (*TaskRemoveResponse, error) {
	return call[TaskRemoveRequest, TaskRemoveResponse](c, "TaskRemove", TaskRemoveRequest{IDs: ids})
}
