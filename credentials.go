package packstream

// CredentialSource supplies the access token and certificate chain that
// accompany a package's content as tail entries.
//
// When Behavior.StripPersonalizedCredentials is enabled the build requests
// the common, de-personalized token form; otherwise the personalized form
// ships as-is. The chain is requested to match the token form. Blobs are
// fetched once, while the plan is laid out.
type CredentialSource interface {
	// RightsID names the credential entries: "<rights>.token" and
	// "<rights>.chain".
	RightsID() string

	Token(common bool) ([]byte, error)
	Chain(common bool) ([]byte, error)
}

// StaticCredentials is a CredentialSource over in-memory blobs. The common
// forms fall back to the personalized ones when unset.
type StaticCredentials struct {
	Rights        string
	PersonalToken []byte
	CommonToken   []byte
	PersonalChain []byte
	CommonChain   []byte
}

func (c *StaticCredentials) RightsID() string {
	return c.Rights
}

func (c *StaticCredentials) Token(common bool) ([]byte, error) {
	if common && c.CommonToken != nil {
		return c.CommonToken, nil
	}
	return c.PersonalToken, nil
}

func (c *StaticCredentials) Chain(common bool) ([]byte, error) {
	if common && c.CommonChain != nil {
		return c.CommonChain, nil
	}
	return c.PersonalChain, nil
}
