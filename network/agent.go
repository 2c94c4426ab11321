package network

// Agent is the application object a Connection is attached to, such as a
// session. The engine only holds it and calls OnClose once when the
// connection closes, then drops the reference.
type Agent interface {
	OnClose()
}

// AgentFunc adapts a close callback to Agent.
type AgentFunc func()

func (f AgentFunc) OnClose() { f() }
