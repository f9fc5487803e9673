package flow

// Approval is a validator's endorsement of the block with the given ID at the
// given height. Approvals for a block are carried in its children's headers and
// count towards fork-choice weight and finality.
type Approval struct {
	BlockID     Identifier
	Height      uint64
	ValidatorID AccountID
	Signature   []byte
}

// SigningMessage returns the bytes the validator signs.
func (a *Approval) SigningMessage() []byte {
	id := MakeID(struct {
		BlockID Identifier
		Height  uint64
	}{a.BlockID, a.Height})
	return id[:]
}

// ID identifies the approval by its signed content and signer.
func (a *Approval) ID() Identifier {
	return MakeID(struct {
		BlockID     Identifier
		Height      uint64
		ValidatorID AccountID
	}{a.BlockID, a.Height, a.ValidatorID})
}
