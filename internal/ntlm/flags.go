package ntlm

// Flags is the NTLMSSP NegotiateFlags bit field.
type Flags uint32

const (
	NegotiateUnicode                Flags = 0x00000001
	NegotiateOEM                    Flags = 0x00000002
	RequestTarget                   Flags = 0x00000004
	NegotiateSign                   Flags = 0x00000010
	NegotiateSeal                   Flags = 0x00000020
	NegotiateLMKey                  Flags = 0x00000080
	NegotiateNTLM                   Flags = 0x00000200
	NegotiateAnonymous              Flags = 0x00000800
	NegotiateOEMDomainSupplied      Flags = 0x00001000
	NegotiateOEMWorkstationSupplied Flags = 0x00002000
	NegotiateAlwaysSign             Flags = 0x00008000
	TargetTypeDomain                Flags = 0x00010000
	TargetTypeServer                Flags = 0x00020000
	NegotiateNTLM2                  Flags = 0x00080000
	NegotiateTargetInfo             Flags = 0x00800000
	NegotiateVersion                Flags = 0x02000000
	Negotiate128                    Flags = 0x20000000
	NegotiateKeyExchange            Flags = 0x40000000
	Negotiate56                     Flags = 0x80000000
)

// Has reports whether all bits of want are set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}
