package metrics

const (
	EngineLabel     = "engine"
	LabelResource   = "resource"
	LabelMessage    = "message"
	LabelShard      = "shard"
	LabelState      = "state"
	LabelReason     = "reason"
	LabelResult     = "result"
	LabelStatus     = "status"
	LabelHeadChange = "change"
)

const (
	EngineSequencer = "sequencer"
)

const (
	ResourceUndefined     = "undefined"
	ResourceBlock         = "block"
	ResourceBlockMeta     = "block_meta"
	ResourceChunkHeader   = "chunk_header"
	ResourceChunkBody     = "chunk_body"
	ResourceEpoch         = "epoch"
	ResourceEpochBlock    = "epoch_block"
	ResourceReceiptQueues = "receipt_queues"
	ResourceStateValue    = "state_value"
)

const (
	MessageBlock       = "block"
	MessageChunkHeader = "chunk_header"
	MessageChunkPart   = "chunk_part"
	MessageApproval    = "approval"
)
