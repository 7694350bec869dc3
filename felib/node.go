package felib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unsafe"
)

// NodeType tags the role of a node in the device tree.
type NodeType int

// Node types reported by GetNodeProperties.
const (
	UnknownNode NodeType = iota - 1
	ParameterNode
	CommandNode
	FeatureNode
	AttributeNode
	EndpointNode
	ChannelNode
	DigitizerNode
	FolderNode
	LVDSNode
	VGANode
	HVChannelNode
	MonOutNode
	VTraceNode
	GroupNode
)

var nodeTypeNames = map[NodeType]string{
	UnknownNode:   "UNKNOWN",
	ParameterNode: "PARAMETER",
	CommandNode:   "COMMAND",
	FeatureNode:   "FEATURE",
	AttributeNode: "ATTRIBUTE",
	EndpointNode:  "ENDPOINT",
	ChannelNode:   "CHANNEL",
	DigitizerNode: "DIGITIZER",
	FolderNode:    "FOLDER",
	LVDSNode:      "LVDS",
	VGANode:       "VGA",
	HVChannelNode: "HV_CHANNEL",
	MonOutNode:    "MONOUT",
	VTraceNode:    "VTRACE",
	GroupNode:     "GROUP",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// initial allocation sizes for the two calls whose native contract reports
// a required size through a positive return value
const (
	initialChildHandles = 1 << 6
	initialTreeBytes    = 1 << 22
)

// Node is a reference into the digitizer's parameter/command/endpoint
// tree.  Nodes obtained by navigation share the root Digitizer's lifetime
// and become invalid when it closes; they never own the handle themselves.
//
// Every operation takes a path relative to the node; the empty string
// means "this node".
type Node struct {
	h   uint64
	dig *Digitizer
}

// Handle exposes the raw library handle, mostly useful for logging.
func (n Node) Handle() uint64 {
	return n.h
}

// valid synthesizes an InvalidHandle error for nodes whose root has been
// closed, before any native call is attempted.
func (n Node) valid(op string) error {
	if n.dig == nil || n.dig.isClosed() {
		return APIError{Code: InvalidHandle, Op: op, Desc: "node belongs to a closed digitizer"}
	}
	return nil
}

// ChildNodes returns the children of the node at path.  The native call
// reports the total child count; if it exceeds the scratch buffer the
// buffer is regrown to that exact count and the call retried once.
func (n Node) ChildNodes(path string) ([]Node, error) {
	if err := n.valid("CAEN_FELib_GetChildHandles"); err != nil {
		return nil, err
	}
	handles := make([]uint64, initialChildHandles)
	count, err := n.dig.a.GetChildHandles(n.h, path, handles)
	if err != nil {
		return nil, err
	}
	if count > len(handles) {
		handles = make([]uint64, count)
		count, err = n.dig.a.GetChildHandles(n.h, path, handles)
		if err != nil {
			return nil, err
		}
	}
	nodes := make([]Node, count)
	for i := 0; i < count; i++ {
		nodes[i] = Node{h: handles[i], dig: n.dig}
	}
	return nodes, nil
}

// ParentNode returns the parent of the node at path.
func (n Node) ParentNode(path string) (Node, error) {
	if err := n.valid("CAEN_FELib_GetParentHandle"); err != nil {
		return Node{}, err
	}
	h, err := n.dig.a.GetParentHandle(n.h, path)
	if err != nil {
		return Node{}, err
	}
	return Node{h: h, dig: n.dig}, nil
}

// GetNode returns the node at path.  Lookups are memoized per root
// Digitizer; the cache is dropped wholesale when the root closes, since
// handles are meaningless afterwards.
func (n Node) GetNode(path string) (Node, error) {
	if err := n.valid("CAEN_FELib_GetHandle"); err != nil {
		return Node{}, err
	}
	if child, ok := n.dig.cachedNode(n.h, path); ok {
		return child, nil
	}
	h, err := n.dig.a.GetHandle(n.h, path)
	if err != nil {
		return Node{}, err
	}
	child := Node{h: h, dig: n.dig}
	n.dig.cacheNode(n.h, path, child)
	return child, nil
}

// Path returns the absolute path of the node.
func (n Node) Path() (string, error) {
	if err := n.valid("CAEN_FELib_GetPath"); err != nil {
		return "", err
	}
	return n.dig.a.GetPath(n.h)
}

// NodeProperties returns the name and type of the node at path.
func (n Node) NodeProperties(path string) (string, NodeType, error) {
	if err := n.valid("CAEN_FELib_GetNodeProperties"); err != nil {
		return "", UnknownNode, err
	}
	return n.dig.a.GetNodeProperties(n.h, path)
}

// Name returns the node's own name.
func (n Node) Name() (string, error) {
	name, _, err := n.NodeProperties("")
	return name, err
}

// Type returns the node's own type.
func (n Node) Type() (NodeType, error) {
	_, typ, err := n.NodeProperties("")
	return typ, err
}

// DeviceTree returns the JSON representation of the tree rooted at the
// node.  Like ChildNodes, a positive return value is the required buffer
// size and drives one exact regrow-and-retry; equal is not fine because
// the terminator needs a byte.
func (n Node) DeviceTree() (json.RawMessage, error) {
	if err := n.valid("CAEN_FELib_GetDeviceTree"); err != nil {
		return nil, err
	}
	buf := make([]byte, initialTreeBytes)
	size, err := n.dig.a.GetDeviceTree(n.h, buf)
	if err != nil {
		return nil, err
	}
	if size >= len(buf) {
		buf = make([]byte, size+1)
		size, err = n.dig.a.GetDeviceTree(n.h, buf)
		if err != nil {
			return nil, err
		}
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	} else {
		buf = buf[:size]
	}
	return json.RawMessage(buf), nil
}

// GetValue returns the string value of the node at path.
func (n Node) GetValue(path string) (string, error) {
	if err := n.valid("CAEN_FELib_GetValue"); err != nil {
		return "", err
	}
	return n.dig.a.GetValue(n.h, path, "")
}

// GetValueWithArg returns the value of the node at path, passing arg
// through the value buffer as some parameters require.
func (n Node) GetValueWithArg(path, arg string) (string, error) {
	if err := n.valid("CAEN_FELib_GetValue"); err != nil {
		return "", err
	}
	return n.dig.a.GetValue(n.h, path, arg)
}

// SetValue sets the string value of the node at path.
func (n Node) SetValue(path, value string) error {
	if err := n.valid("CAEN_FELib_SetValue"); err != nil {
		return err
	}
	return n.dig.a.SetValue(n.h, path, value)
}

// Value returns the node's own value.
func (n Node) Value() (string, error) {
	return n.GetValue("")
}

// GetUserRegister reads a 32-bit user register.
func (n Node) GetUserRegister(addr uint32) (uint32, error) {
	if err := n.valid("CAEN_FELib_GetUserRegister"); err != nil {
		return 0, err
	}
	return n.dig.a.GetUserRegister(n.h, addr)
}

// SetUserRegister writes a 32-bit user register.
func (n Node) SetUserRegister(addr, value uint32) error {
	if err := n.valid("CAEN_FELib_SetUserRegister"); err != nil {
		return err
	}
	return n.dig.a.SetUserRegister(n.h, addr, value)
}

// SendCommand executes the command node at path.
func (n Node) SendCommand(path string) error {
	if err := n.valid("CAEN_FELib_SendCommand"); err != nil {
		return err
	}
	return n.dig.a.SendCommand(n.h, path)
}

// HasData reports whether a read would succeed within the timeout.  A
// timeout of -1 blocks until data is available.
func (n Node) HasData(timeoutMillis int) error {
	if err := n.valid("CAEN_FELib_HasData"); err != nil {
		return err
	}
	return n.dig.a.HasData(n.h, timeoutMillis)
}

// SetReadDataFormat registers fields as the node's read format and
// compiles the matching native buffers.  Field validation happens before
// the native registration, and the registration before any allocation, so
// a failure at either step leaves no stale buffers behind.
//
// The registration mutates the process-global signature of the underlying
// variadic read entry point: reading concurrently through the same node
// with two different formats is unsafe and must be serialized by the
// caller.  This originates in the native ABI and cannot be fixed here.
func (n Node) SetReadDataFormat(fields []Field) (*FormatSet, error) {
	if err := n.valid("CAEN_FELib_SetReadDataFormat"); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	if len(fields) > maxReadFields {
		return nil, fmt.Errorf("felib: %d fields exceed the read call arity limit of %d", len(fields), maxReadFields)
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if err := n.dig.a.SetReadDataFormat(n.h, string(blob)); err != nil {
		return nil, err
	}
	fs := &FormatSet{
		node: n,
		bufs: make([]*Buffer, len(fields)),
		args: make([]unsafe.Pointer, len(fields)),
	}
	for i, f := range fields {
		fs.bufs[i] = newBuffer(f)
	}
	n.dig.track(fs)
	return fs, nil
}
