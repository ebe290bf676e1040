package testdata

// TestVector contains known key derivation input/output pairs.
type TestVector struct {
	Name       string
	Password   string
	Salt       string // Hex
	Iterations int
	Key        string // URL-safe base64, as stored in the session file
}

// Vectors contains PBKDF2-HMAC-SHA256 vectors for the vault key.
var Vectors = []TestVector{
	{
		Name:       "ascii password",
		Password:   "correct horse battery staple",
		Salt:       "000102030405060708090a0b0c0d0e0f",
		Iterations: 100000,
		Key:        "SdScJfWXhGIJ8Nkud3CrZOHHXpS0zmxQkmXuZxddKh4=",
	},
	{
		Name:       "unicode password",
		Password:   "pässwörd",
		Salt:       "6c6d70692d746573742d73616c742121",
		Iterations: 100000,
		Key:        "oCzEx3D1-o-EMmj5IrPILrXvyqNGzZIf4Q84Ls99_6g=",
	},
	{
		Name:       "fullwidth password normalizes",
		Password:   "ｐａｓｓ",
		Salt:       "6c6d70692d746573742d73616c742121",
		Iterations: 100000,
		Key:        "nzi9qK7-32Xo-6oFiHZIMa4TmnW37-Re7UmPphdL9lU=",
	},
	{
		Name:       "empty password",
		Password:   "",
		Salt:       "00000000000000000000000000000000",
		Iterations: 100000,
		Key:        "buhv67BlMcXSpLLIPTTqIjZCmMGFZW_dEhUCdnQ-DU0=",
	},
}
