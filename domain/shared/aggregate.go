package shared

// AggregateRoot 聚合根接口
// 聚合根是一致性边界的入口，持有版本号与未提交事件（内存中的 outbox）
//
// 生命周期:
// 1. 业务方法修改状态并追加事件
// 2. 仓储按版本号条件写入
// 3. 事务提交后 MarkPersisted 递增版本号
// 4. 事件交给发布器之后才允许 ClearEvents
type AggregateRoot interface {
	// ID 返回聚合根的全局唯一标识
	ID() string

	// AggregateType 返回聚合类型名，如 "book"
	AggregateType() string

	// Version 返回最后一次持久化时的版本号，新建聚合为 0
	Version() int

	// UncommittedEvents 按产生顺序返回未提交事件
	UncommittedEvents() []DomainEvent

	// ClearEvents 清空未提交事件，只能在事件交给发布器之后调用
	ClearEvents()

	// MarkPersisted 在持久化成功后由工作单元调用，版本号加一，
	// 并把未提交事件标记为新版本
	MarkPersisted()
}

// Entity 实体接口
// 实体通过标识判断相等性
type Entity interface {
	ID() string
}

// EventRecorder is embedded by aggregates to keep their in-memory outbox.
// It is not safe for concurrent use; an aggregate instance belongs to one command.
type EventRecorder struct {
	events []DomainEvent
}

// Record appends an event to the outbox.
func (r *EventRecorder) Record(e DomainEvent) {
	r.events = append(r.events, e)
}

// UncommittedEvents returns a copy of the outbox in emission order.
func (r *EventRecorder) UncommittedEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ClearEvents empties the outbox.
func (r *EventRecorder) ClearEvents() {
	r.events = nil
}

// stamp replaces every pending event with a copy carrying the aggregate version.
func (r *EventRecorder) stamp(version int) {
	for i, e := range r.events {
		r.events[i] = e.WithAggregateVersion(version)
	}
}

// Versioned holds the optimistic lock counter together with the outbox.
type Versioned struct {
	EventRecorder
	version int
}

// NewVersioned is used by RebuildFromDTO implementations.
func NewVersioned(version int) Versioned {
	return Versioned{version: version}
}

// Version returns the persisted version.
func (v *Versioned) Version() int {
	return v.version
}

// MarkPersisted bumps the version after a durable write and stamps pending events with it.
func (v *Versioned) MarkPersisted() {
	v.version++
	v.stamp(v.version)
}
