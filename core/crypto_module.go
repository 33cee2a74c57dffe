package core

// crypto_module.go implements the crypto host built-ins (§4.10): sha256,
// keccak256 (hardfork >= 4), ecverify, and verifyProof. verifyProof's
// leaf value is RLP-encoded (a string or an array of up to 20 elements)
// before hashing, then folded up a Merkle path the same way
// merkle_tree_operations.go's VerifyMerklePath does, with the path's
// left/right decisions derived from the bits of sha256(key) rather than a
// numeric leaf index — this is the keyed variant the proof format needs.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	lua "github.com/yuin/gopher-lua"
)

var (
	ErrRLPLeafType      = errors.New("crypto: unsupported rlp leaf value type")
	ErrRLPArrayTooLarge = errors.New("crypto: rlp leaf array exceeds 20 elements")
)

// Sha256Hex returns the lowercase hex-encoded SHA-256 digest of data, the
// `sha256 → hex` built-in.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Keccak256 returns the raw Keccak-256 digest, gated to hardfork >= 4.
func Keccak256(data []byte) []byte {
	return crypto.Keccak256(data)
}

// ECVerify checks a 65-byte recoverable secp256k1 signature against hash
// and the expected 20-byte address derived from pubkey.
func ECVerify(hash, sig, pubkey []byte) bool {
	if len(sig) != 65 {
		return false
	}
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	recoveredAddr := crypto.PubkeyToAddress(*recovered)
	return bytes.Equal(recoveredAddr.Bytes(), pubkey)
}

// RLPEncodeLeafValue encodes a verifyProof leaf value. Accepted shapes:
// a plain string, or a slice of up to 20 strings.
func RLPEncodeLeafValue(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return rlp.EncodeToBytes(t)
	case []string:
		if len(t) > 20 {
			return nil, ErrRLPArrayTooLarge
		}
		return rlp.EncodeToBytes(t)
	default:
		return nil, ErrRLPLeafType
	}
}

// VerifyProof checks that folding proof up from an RLP-encoded leaf value,
// following the bit path of sha256(key), reproduces root.
func VerifyProof(key []byte, value interface{}, root []byte, proof [][]byte) (bool, error) {
	leafBytes, err := RLPEncodeLeafValue(value)
	if err != nil {
		return false, err
	}
	if len(proof) > 256 {
		return false, errors.New("crypto: proof path too long")
	}
	pathHash := sha256.Sum256(key)
	h := sha256.Sum256(leafBytes)
	hash := h[:]
	for i, sibling := range proof {
		bit := (pathHash[i/8] >> (7 - uint(i%8))) & 1
		var sum [32]byte
		if bit == 0 {
			sum = sha256.Sum256(append(append([]byte{}, hash...), sibling...))
		} else {
			sum = sha256.Sum256(append(append([]byte{}, sibling...), hash...))
		}
		hash = sum[:]
	}
	return bytes.Equal(hash, root), nil
}

//---------------------------------------------------------------------
// Lua-facing registration
//---------------------------------------------------------------------

// RegisterCryptoModule installs the `crypto` table on L.
func RegisterCryptoModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "sha256", L.NewFunction(luaCryptoSha256))
	L.SetField(mod, "keccak256", L.NewFunction(luaCryptoKeccak256))
	L.SetField(mod, "ecverify", L.NewFunction(luaCryptoECVerify))
	L.SetField(mod, "verifyProof", L.NewFunction(luaCryptoVerifyProof))
	L.SetGlobal("crypto", mod)
}

func chargeCryptoGas(L *lua.LState, name string) error {
	ctx, err := LookupServiceContext(L)
	if err != nil {
		return err
	}
	if err := ctx.Gov.InstructionHook(); err != nil {
		return err
	}
	return ctx.Gov.ChargeGas(GasCost(name))
}

func luaCryptoSha256(L *lua.LState) int {
	if err := chargeCryptoGas(L, "crypto.sha256"); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	data := []byte(L.CheckString(1))
	L.Push(lua.LString(Sha256Hex(data)))
	return 1
}

func luaCryptoKeccak256(L *lua.LState) int {
	if err := chargeCryptoGas(L, "crypto.keccak256"); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if ctx, err := LookupServiceContext(L); err == nil && ctx.HardforkVersion < 4 {
		L.RaiseError("crypto.keccak256 requires hardfork >= 4")
		return 0
	}
	data := []byte(L.CheckString(1))
	L.Push(lua.LString(Keccak256(data)))
	return 1
}

func luaCryptoECVerify(L *lua.LState) int {
	if err := chargeCryptoGas(L, "crypto.ecverify"); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	hash := []byte(L.CheckString(1))
	sig := []byte(L.CheckString(2))
	pubkey := []byte(L.CheckString(3))
	L.Push(lua.LBool(ECVerify(hash, sig, pubkey)))
	return 1
}

func luaCryptoVerifyProof(L *lua.LState) int {
	if err := chargeCryptoGas(L, "crypto.verifyProof"); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	key := []byte(L.CheckString(1))

	var leafValue interface{}
	switch v := L.Get(2).(type) {
	case lua.LString:
		leafValue = string(v)
	case *lua.LTable:
		var arr []string
		v.ForEach(func(_, val lua.LValue) {
			arr = append(arr, val.String())
		})
		leafValue = arr
	default:
		L.RaiseError("verifyProof: value must be a string or array")
		return 0
	}

	root := []byte(L.CheckString(3))

	var proof [][]byte
	if tbl, ok := L.Get(4).(*lua.LTable); ok {
		tbl.ForEach(func(_, val lua.LValue) {
			proof = append(proof, []byte(val.String()))
		})
	}

	ok, err := VerifyProof(key, leafValue, root, proof)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LBool(ok))
	return 1
}
