package cmd

import (
	"bytes"
	"context"
	"fmt"

	"github.com/keymint-ta/core/internal/cryptoimpl"
	"github.com/keymint-ta/core/internal/keyblob"
	"github.com/keymint-ta/core/internal/protocol"
	"github.com/keymint-ta/core/internal/sdd"
	"github.com/keymint-ta/core/internal/ta"
	"github.com/keymint-ta/core/internal/wire"
	"github.com/spf13/cobra"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the core's concrete scenario checks against an in-memory instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelftest()
	},
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

type selftestCase struct {
	name string
	run  func(*ta.KeyMintTA) error
}

func runSelftest() error {
	cases := []selftestCase{
		{"use-count limit enforced across Begin calls", selftestUseCount},
		{"secure-deletion slot destruction blocks further unsealing", selftestSecureDeletion},
		{"malformed request frame yields the invalid-request fallback", selftestInvalidFrame},
	}

	failed := 0
	for _, c := range cases {
		instance := newSelftestTA()
		if err := c.run(instance); err != nil {
			fmt.Printf("FAIL  %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS  %s\n", c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d selftest cases failed", failed, len(cases))
	}
	return nil
}

func newSelftestTA() *ta.KeyMintTA {
	rootKey := bytes.Repeat([]byte{0x42}, 32)
	instance := ta.New(keyblob.SecurityLevelTrustedEnvironment, ta.Collaborators{
		Rng:      cryptoimpl.SystemRng{},
		Clock:    cryptoimpl.SystemClock{},
		Hmac:     cryptoimpl.HmacSHA256{},
		RootKeys: cryptoimpl.NewStaticRootKeyProvider(rootKey),
		SDD:      sdd.NewInMemoryManager(0),
	})
	_ = instance.SetBootInfo(ta.BootInfo{})
	_ = instance.SetHalInfo(ta.HalInfo{})
	return instance
}

func sendSelftestRequest(instance *ta.KeyMintTA, opcode protocol.Opcode, payload any) (protocol.Response, error) {
	var payloadBytes wire.RawMessage
	if payload == nil {
		payloadBytes = wire.RawMessage{0x80}
	} else {
		data, err := wire.Marshal(payload)
		if err != nil {
			return protocol.Response{}, err
		}
		payloadBytes = data
	}
	reqBytes, err := wire.Marshal(protocol.Request{Opcode: opcode, Payload: payloadBytes})
	if err != nil {
		return protocol.Response{}, err
	}

	respBytes := instance.Process(context.Background(), reqBytes)
	var resp protocol.Response
	if err := wire.Unmarshal(respBytes, &resp); err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

func selftestUseCount(instance *ta.KeyMintTA) error {
	characteristics := []keyblob.KeyCharacteristics{
		{SecurityLevel: keyblob.SecurityLevelTrustedEnvironment, Authorizations: []keyblob.KeyParam{
			keyblob.UsageCountLimit(2),
		}},
	}
	plaintext := keyblob.PlaintextKeyMaterial{Kind: keyblob.AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x01}, 32)}

	importResp, err := sendSelftestRequest(instance, protocol.OpDeviceImportKey, struct {
		_               struct{} `cbor:",toarray"`
		Plaintext       keyblob.PlaintextKeyMaterial
		Characteristics []keyblob.KeyCharacteristics
		Hidden          []keyblob.KeyParam
	}{Plaintext: plaintext, Characteristics: characteristics})
	if err != nil {
		return err
	}
	if importResp.ErrorCode != protocol.ErrOK {
		return fmt.Errorf("ImportKey: error code %d", importResp.ErrorCode)
	}
	var blobBytes []byte
	if err := wire.Unmarshal(importResp.Payload, &blobBytes); err != nil {
		return fmt.Errorf("decoding keyblob: %w", err)
	}

	beginPayload := struct {
		_                struct{} `cbor:",toarray"`
		KeyBlob          []byte
		Hidden           []keyblob.KeyParam
		Purpose          keyblob.Purpose
		PresenceRequired bool
	}{KeyBlob: blobBytes, Purpose: keyblob.PurposeEncrypt}

	for i := 0; i < 2; i++ {
		resp, err := sendSelftestRequest(instance, protocol.OpBegin, beginPayload)
		if err != nil {
			return err
		}
		if resp.ErrorCode != protocol.ErrOK {
			return fmt.Errorf("Begin #%d: expected Ok, got error code %d", i+1, resp.ErrorCode)
		}
	}
	resp, err := sendSelftestRequest(instance, protocol.OpBegin, beginPayload)
	if err != nil {
		return err
	}
	if resp.ErrorCode != protocol.ErrKeyMaxOpsExceeded {
		return fmt.Errorf("Begin #3: expected ErrKeyMaxOpsExceeded, got %d", resp.ErrorCode)
	}
	return nil
}

func selftestSecureDeletion(instance *ta.KeyMintTA) error {
	characteristics := []keyblob.KeyCharacteristics{
		{SecurityLevel: keyblob.SecurityLevelTrustedEnvironment, Authorizations: []keyblob.KeyParam{
			keyblob.RollbackResistance(),
		}},
	}
	plaintext := keyblob.PlaintextKeyMaterial{Kind: keyblob.AlgorithmAES, SymmetricKey: bytes.Repeat([]byte{0x02}, 32)}

	importResp, err := sendSelftestRequest(instance, protocol.OpDeviceImportKey, struct {
		_               struct{} `cbor:",toarray"`
		Plaintext       keyblob.PlaintextKeyMaterial
		Characteristics []keyblob.KeyCharacteristics
		Hidden          []keyblob.KeyParam
	}{Plaintext: plaintext, Characteristics: characteristics})
	if err != nil {
		return err
	}
	if importResp.ErrorCode != protocol.ErrOK {
		return fmt.Errorf("ImportKey: error code %d", importResp.ErrorCode)
	}
	var blobBytes []byte
	if err := wire.Unmarshal(importResp.Payload, &blobBytes); err != nil {
		return fmt.Errorf("decoding keyblob: %w", err)
	}

	deleteResp, err := sendSelftestRequest(instance, protocol.OpDeviceDeleteKey, blobBytes)
	if err != nil {
		return err
	}
	if deleteResp.ErrorCode != protocol.ErrOK {
		return fmt.Errorf("DeleteKey: error code %d", deleteResp.ErrorCode)
	}

	beginPayload := struct {
		_                struct{} `cbor:",toarray"`
		KeyBlob          []byte
		Hidden           []keyblob.KeyParam
		Purpose          keyblob.Purpose
		PresenceRequired bool
	}{KeyBlob: blobBytes, Purpose: keyblob.PurposeEncrypt}
	resp, err := sendSelftestRequest(instance, protocol.OpBegin, beginPayload)
	if err != nil {
		return err
	}
	if resp.ErrorCode == protocol.ErrOK {
		return fmt.Errorf("Begin after DeleteKey: expected failure, got Ok")
	}
	return nil
}

func selftestInvalidFrame(instance *ta.KeyMintTA) error {
	resp := instance.Process(context.Background(), []byte{0xFF})
	if !bytes.Equal(resp, protocol.InvalidRequestFallback) {
		return fmt.Errorf("expected the fixed invalid-request fallback, got %x", resp)
	}
	return nil
}
