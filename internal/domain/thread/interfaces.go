package thread

import "context"

// ThreadRepository is the persistence contract for threads.
type ThreadRepository interface {
	Create(ctx context.Context, t *Thread) error
	Get(ctx context.Context, id string) (*Thread, error)
	Update(ctx context.Context, t *Thread) error
	// ListActive returns up to limit active threads ordered by
	// lastActiveAt descending.
	ListActive(ctx context.Context, limit int) ([]*Thread, error)
	// ListRecent returns up to limit non-closed threads ordered by
	// lastActiveAt descending.
	ListRecent(ctx context.Context, limit int) ([]*Thread, error)
}

// NodeRepository is the persistence contract for context nodes.
type NodeRepository interface {
	Create(ctx context.Context, n *Node) error
	Get(ctx context.Context, id string) (*Node, error)
	// ListRecentByThread returns up to limit nodes for the thread, newest
	// first.
	ListRecentByThread(ctx context.Context, threadID string, limit int) ([]*Node, error)
	// AssignThread updates the node's thread association.
	AssignThread(ctx context.Context, nodeID, threadID string) error
}
