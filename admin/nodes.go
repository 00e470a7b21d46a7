package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sensei-labs/senseid/directory"
	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/node"
	"github.com/sensei-labs/senseid/store"
)

// CreateNodeRequest is the input shared by CreateAdmin and CreateNode,
// spec.md §6's "CreateNode" operation plus the role/start flag
// CreateAdmin needs on top of it.
type CreateNodeRequest struct {
	Username   string
	Passphrase string
	Alias      string
	ListenAddr string
	ListenPort int32

	// Start, if true, brings the node fully up before returning so its
	// identity pubkey is available immediately, matching spec.md §8's
	// "CreateAdmin{..., start:true} yields a pubkey" scenario.
	Start bool
}

// CreateNodeResult is a newly created node's row plus its identity
// pubkey, populated only if the request asked to start it.
type CreateNodeResult struct {
	Node           *store.Node
	IdentityPubkey string
}

// starter adapts node.New to directory.Starter by closing over this
// Service's shared Deps, the one Starter every node this process hosts
// is constructed through.
func (s *Service) starter(ctx context.Context, id, passphrase string) (directory.RunningNode, error) {
	return node.New(ctx, s.deps, id, passphrase)
}

func (s *Service) createNode(ctx context.Context, req CreateNodeRequest, role store.NodeRole) (*CreateNodeResult, error) {
	now := time.Now().Unix()
	network := ""
	if s.deps.Params != nil {
		network = s.deps.Params.Name
	}

	n := &store.Node{
		ID: uuid.NewString(), Role: role, Username: req.Username, Alias: req.Alias,
		Network: network, ListenAddr: req.ListenAddr, ListenPort: req.ListenPort,
		Status: store.NodeStatusStopped, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.db.CreateNode(ctx, n); err != nil {
		return nil, err
	}

	result := &CreateNodeResult{Node: n}
	if !req.Start {
		return result, nil
	}

	if err := s.dir.Start(ctx, n.ID, req.Passphrase, s.starter); err != nil {
		return nil, err
	}
	info, err := s.nodeInfo(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	result.IdentityPubkey = info.IdentityPub
	return result, nil
}

func (s *Service) nodeInfo(ctx context.Context, id string) (*node.Info, error) {
	rn, ok := s.dir.Get(id)
	if !ok {
		return nil, esenseid.ErrAdminNodeNotStarted
	}
	n, ok := rn.(*node.Node)
	if !ok {
		return nil, esenseid.New(esenseid.KindGeneric, "running node has an unexpected type")
	}
	return n.Info(ctx)
}

// CreateAdmin provisions the singleton administrator node, spec.md §4.6
// step 4 / §6. It fails if an admin node already exists -- CreateAdmin
// is a one-time bootstrap operation, not a way to replace the admin
// identity.
func (s *Service) CreateAdmin(ctx context.Context, req CreateNodeRequest) (*CreateNodeResult, error) {
	if _, err := s.db.GetRootNode(ctx); err == nil {
		return nil, esenseid.New(esenseid.KindGeneric, "admin node already exists")
	} else if esenseid.KindOf(err) != esenseid.KindAdminNodeNotCreated {
		return nil, err
	}

	result, err := s.createNode(ctx, req, store.NodeRoleRoot)
	if err != nil {
		return nil, err
	}
	s.dir.SetAdminNodeID(result.Node.ID)
	return result, nil
}

// StartAdmin unlocks the previously-created admin node with passphrase,
// spec.md §4.6 step 4's deferred unlock: Bootstrap only ever records the
// admin node's id, it never starts it on its own.
func (s *Service) StartAdmin(ctx context.Context, passphrase string) error {
	root, err := s.db.GetRootNode(ctx)
	if err != nil {
		return err
	}
	if err := s.dir.Start(ctx, root.ID, passphrase, s.starter); err != nil {
		return err
	}
	s.dir.SetAdminNodeID(root.ID)
	return nil
}

// Status summarizes the process for an operator-facing health check.
type Status struct {
	AdminNodeID  string
	AdminRunning bool
	TotalNodes   int
	RunningNodes int
}

// GetStatus reports whether an admin node exists/is running, and the
// total and currently-running node counts, spec.md §6's "GetStatus"
// operation.
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	if root, err := s.db.GetRootNode(ctx); err == nil {
		status.AdminNodeID = root.ID
		status.AdminRunning = s.dir.IsRunning(root.ID)
	} else if esenseid.KindOf(err) != esenseid.KindAdminNodeNotCreated {
		return nil, err
	}

	listResult, err := s.db.ListNodes(ctx, store.ListNodesParams{Limit: 1})
	if err != nil {
		return nil, err
	}
	status.TotalNodes = listResult.Total
	status.RunningNodes = len(s.dir.List())

	return status, nil
}

// ListNodes is a thin pass-through to store's pagination, the layer
// boundary the maintainer review draws explicit: Admin orchestrates,
// store just stores.
func (s *Service) ListNodes(ctx context.Context, params store.ListNodesParams) (*store.ListNodesResult, error) {
	return s.db.ListNodes(ctx, params)
}

// CreateNode provisions a new non-root hosted node, spec.md §6's
// "CreateNode" operation and §8's "second pubkey P1" scenario step.
func (s *Service) CreateNode(ctx context.Context, req CreateNodeRequest) (*CreateNodeResult, error) {
	return s.createNode(ctx, req, store.NodeRoleDefault)
}

// DeleteNode removes a node's row and every per-node table referencing
// it, requiring the node be stopped first per directory.MustBeStopped,
// spec.md §4.2's "delete(id): requires Stopped" precondition.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	if err := s.dir.MustBeStopped(id); err != nil {
		return err
	}
	return s.db.DeleteNode(ctx, id)
}

// StartNode brings up an already-created node, spec.md §6's "StartNode"
// operation.
func (s *Service) StartNode(ctx context.Context, id, passphrase string) error {
	return s.dir.Start(ctx, id, passphrase, s.starter)
}

// StopNode halts a running node, spec.md §6's "StopNode" operation.
// Stopping the admin node itself is allowed: Directory treats it as an
// ordinary RunningNode, AdminNodeID simply starts reporting
// ErrAdminNodeNotStarted until StartAdmin runs again.
func (s *Service) StopNode(ctx context.Context, id string) error {
	return s.dir.Stop(ctx, id)
}
