package ctxkeys

// TraceIDKey 上下文中的追踪ID
type TraceIDKey struct{}

// SessionIDKey 上下文中的会话ID
type SessionIDKey struct{}
