// Package graph defines the dataflow graph IR handed to the host manager:
// modules of named functions built from placeholders, elementwise nodes, and
// saved outputs, plus the tensor and binding containers a run operates on.
package graph

// Op identifies an elementwise operation.
type Op string

// Supported operations.
const (
	OpTanh    Op = "tanh"
	OpSigmoid Op = "sigmoid"
	OpRelu    Op = "relu"
	OpAdd     Op = "add"
	OpMul     Op = "mul"
)

// Arity returns the operand count for the operation, or 0 if the operation
// is unknown.
func (op Op) Arity() int {
	switch op {
	case OpTanh, OpSigmoid, OpRelu:
		return 1
	case OpAdd, OpMul:
		return 2
	}
	return 0
}

// Placeholder is a named, shaped input slot bound to a tensor at run time.
type Placeholder struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Node is a named operation over operand names. Operands refer to
// placeholders or to earlier nodes in the same function.
type Node struct {
	Name   string   `json:"name"`
	Op     Op       `json:"op"`
	Inputs []string `json:"inputs"`
}

// Save marks a node's value as a function output. The saved value is written
// to the run context under the save's name.
type Save struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Function is a named dataflow graph. One function is one registrable
// network.
type Function struct {
	Name         string
	Placeholders []*Placeholder
	Nodes        []*Node
	Saves        []*Save
}

// Module is an ordered collection of functions, the unit handed to
// AddNetwork. Each contained function is registered under its own name.
type Module struct {
	functions []*Function
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{}
}

// AddFunction appends a new empty function to the module and returns it.
func (m *Module) AddFunction(name string) *Function {
	f := &Function{Name: name}
	m.functions = append(m.functions, f)
	return f
}

// Functions returns the module's functions in insertion order.
func (m *Module) Functions() []*Function {
	return m.functions
}

// AddPlaceholder declares a named input slot on the function.
func (f *Function) AddPlaceholder(name string, shape ...int) *Placeholder {
	p := &Placeholder{Name: name, Shape: shape}
	f.Placeholders = append(f.Placeholders, p)
	return p
}

// AddNode appends an operation node to the function.
func (f *Function) AddNode(name string, op Op, inputs ...string) *Node {
	n := &Node{Name: name, Op: op, Inputs: inputs}
	f.Nodes = append(f.Nodes, n)
	return n
}

// AddTanh appends an elementwise tanh node.
func (f *Function) AddTanh(name, input string) *Node {
	return f.AddNode(name, OpTanh, input)
}

// AddSigmoid appends an elementwise sigmoid node.
func (f *Function) AddSigmoid(name, input string) *Node {
	return f.AddNode(name, OpSigmoid, input)
}

// AddRelu appends an elementwise relu node.
func (f *Function) AddRelu(name, input string) *Node {
	return f.AddNode(name, OpRelu, input)
}

// AddAdd appends an elementwise addition node.
func (f *Function) AddAdd(name, a, b string) *Node {
	return f.AddNode(name, OpAdd, a, b)
}

// AddMul appends an elementwise multiplication node.
func (f *Function) AddMul(name, a, b string) *Node {
	return f.AddNode(name, OpMul, a, b)
}

// AddSave marks the named node as a function output bound under name.
func (f *Function) AddSave(name, input string) *Save {
	s := &Save{Name: name, Input: input}
	f.Saves = append(f.Saves, s)
	return s
}
