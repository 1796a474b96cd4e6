package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType = "courier:evtype:"
	prefixSub       = "courier:sub:"
	prefixEvent     = "courier:evt:"
	prefixDelivery  = "courier:del:"
	prefixDLQ       = "courier:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeName = "courier:u:evtype:name:"
)

// Key prefixes for set indexes.
const (
	sEventTypeActive = "courier:s:evtype:active"
	sSubActive       = "courier:s:sub:active"
)

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll   = "courier:z:evtype:all"
	zEventTypeGroup = "courier:z:evtype:group:" // + group name
	zSubUser        = "courier:z:sub:user:"     // + user ID
	zSubAll         = "courier:z:sub:all"
	zEventAll       = "courier:z:evt:all"
	zEventUser      = "courier:z:evt:user:" // + user ID
	zDeliverySub    = "courier:z:del:sub:"  // + subscription ID
	zDeliveryEvt    = "courier:z:del:evt:"  // + event ID
	zDeliveryPend   = "courier:z:del:pending"
	zSubFailures    = "courier:z:sub:failures:" // + subscription ID
	zDLQAll         = "courier:z:dlq:all"
	zDLQUnhandled   = "courier:z:dlq:unhandled"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
