package payload

import "github.com/neo-core/neod/errs"

// WitnessScope is the bitset of spec.md §3 Signer.scopes.
type WitnessScope uint8

const (
	ScopeNone             WitnessScope = 0x00
	ScopeCalledByEntry    WitnessScope = 0x01
	ScopeCustomContracts  WitnessScope = 0x10
	ScopeCustomGroups     WitnessScope = 0x20
	ScopeWitnessRules     WitnessScope = 0x40
	ScopeGlobal           WitnessScope = 0x80
)

const maxSubitems = 16 // allowed_contracts / allowed_groups / rules cap

// WitnessRule is a single entry of a Signer's rule-based scope.
type WitnessRule struct {
	Action    uint8
	Condition []byte // opaque, condition-tree encoding out of core's scope
}

// Signer is one entry of a Transaction's signer list (spec.md §3).
type Signer struct {
	Account          Hash20
	Scopes           WitnessScope
	AllowedContracts []Hash20
	AllowedGroups    [][]byte // compressed public keys, 33 bytes each
	Rules            []WitnessRule
}

// Validate enforces the Global-is-exclusive invariant.
func (s *Signer) Validate() error {
	if s.Scopes&ScopeGlobal != 0 && s.Scopes != ScopeGlobal {
		return errs.New(errs.Validation, "global-scope-not-exclusive", nil)
	}
	if len(s.AllowedContracts) > maxSubitems || len(s.AllowedGroups) > maxSubitems || len(s.Rules) > maxSubitems {
		return errs.New(errs.Validation, "signer-subitem-cap-exceeded", nil)
	}
	return nil
}

func (s *Signer) encode(bw *Writer) {
	writeHash20(bw, s.Account)
	bw.WriteU8(uint8(s.Scopes))
	if s.Scopes&ScopeCustomContracts != 0 {
		bw.WriteVarInt(uint64(len(s.AllowedContracts)))
		for _, c := range s.AllowedContracts {
			writeHash20(bw, c)
		}
	}
	if s.Scopes&ScopeCustomGroups != 0 {
		bw.WriteVarInt(uint64(len(s.AllowedGroups)))
		for _, g := range s.AllowedGroups {
			bw.WriteBytes(g)
		}
	}
	if s.Scopes&ScopeWitnessRules != 0 {
		bw.WriteVarInt(uint64(len(s.Rules)))
		for _, r := range s.Rules {
			bw.WriteU8(r.Action)
			bw.WriteVarBytes(r.Condition)
		}
	}
}

func decodeSigner(br *Reader) Signer {
	s := Signer{Account: readHash20(br), Scopes: WitnessScope(br.ReadU8())}
	if s.Scopes&ScopeCustomContracts != 0 {
		n := br.ReadVarInt()
		if n > maxSubitems {
			br.fail("signer-subitem-cap-exceeded", nil)
			return s
		}
		s.AllowedContracts = make([]Hash20, n)
		for i := range s.AllowedContracts {
			s.AllowedContracts[i] = readHash20(br)
		}
	}
	if s.Scopes&ScopeCustomGroups != 0 {
		n := br.ReadVarInt()
		if n > maxSubitems {
			br.fail("signer-subitem-cap-exceeded", nil)
			return s
		}
		s.AllowedGroups = make([][]byte, n)
		for i := range s.AllowedGroups {
			s.AllowedGroups[i] = br.ReadBytes(33)
		}
	}
	if s.Scopes&ScopeWitnessRules != 0 {
		n := br.ReadVarInt()
		if n > maxSubitems {
			br.fail("signer-subitem-cap-exceeded", nil)
			return s
		}
		s.Rules = make([]WitnessRule, n)
		for i := range s.Rules {
			s.Rules[i].Action = br.ReadU8()
			s.Rules[i].Condition = br.ReadVarBytesCap(1024)
		}
	}
	return s
}
