// Copyright 2025 Certen Protocol

package clarity

import (
	"bytes"
	"encoding/binary"

	"github.com/certen/btc-identity-core/pkg/coreerr"
)

// EncodeContractCall serializes a ContractCall into the opaque payload
// shape SubmitTransaction/VerifyProof expect. The format is a simple
// length-prefixed framing, not a Clarity value encoding: arguments stay
// exactly the bytes the caller pre-encoded.
func EncodeContractCall(call ContractCall) []byte {
	var buf bytes.Buffer
	writeString(&buf, call.ContractID)
	writeString(&buf, call.Function)

	writeUint32(&buf, uint32(len(call.Args)))
	for _, arg := range call.Args {
		writeBytes(&buf, arg)
	}

	writeUint32(&buf, uint32(len(call.PostConditions)))
	for _, pc := range call.PostConditions {
		writeString(&buf, pc.Principal)
		writeString(&buf, pc.AssetID)
		writeString(&buf, pc.Operator)
		writeUint64(&buf, pc.Amount)
	}
	return buf.Bytes()
}

// DecodeContractCall reverses EncodeContractCall.
func DecodeContractCall(payload []byte) (ContractCall, error) {
	r := bytes.NewReader(payload)
	call := ContractCall{}

	contractID, err := readString(r)
	if err != nil {
		return ContractCall{}, err
	}
	call.ContractID = contractID

	function, err := readString(r)
	if err != nil {
		return ContractCall{}, err
	}
	call.Function = function

	argCount, err := readUint32(r)
	if err != nil {
		return ContractCall{}, err
	}
	for i := uint32(0); i < argCount; i++ {
		arg, err := readBytes(r)
		if err != nil {
			return ContractCall{}, err
		}
		call.Args = append(call.Args, arg)
	}

	pcCount, err := readUint32(r)
	if err != nil {
		return ContractCall{}, err
	}
	for i := uint32(0); i < pcCount; i++ {
		principal, err := readString(r)
		if err != nil {
			return ContractCall{}, err
		}
		assetID, err := readString(r)
		if err != nil {
			return ContractCall{}, err
		}
		operator, err := readString(r)
		if err != nil {
			return ContractCall{}, err
		}
		amount, err := readUint64(r)
		if err != nil {
			return ContractCall{}, err
		}
		call.PostConditions = append(call.PostConditions, PostCondition{
			Principal: principal, AssetID: assetID, Operator: operator, Amount: amount,
		})
	}
	return call, nil
}

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidInput, "clarity.readBytes", "truncated payload", err)
	}
	return b, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, coreerr.Wrap(coreerr.InvalidInput, "clarity.readUint32", "truncated payload", err)
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, coreerr.Wrap(coreerr.InvalidInput, "clarity.readUint64", "truncated payload", err)
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}
