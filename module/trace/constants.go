package trace

type SpanName string

const (
	// chain
	CHSubmitBlock      SpanName = "chain.submitBlock"
	CHValidateHeader   SpanName = "chain.submitBlock.validateHeader"
	CHApplyChunks      SpanName = "chain.submitBlock.applyChunks"
	CHRouteReceipts    SpanName = "chain.submitBlock.routeReceipts"
	CHUpdateForkChoice SpanName = "chain.submitBlock.updateForkChoice"

	// chunks
	CKValidate    SpanName = "chunks.validate"
	CKReconstruct SpanName = "chunks.validate.reconstruct"
	CKProduce     SpanName = "chunks.produce"
)
