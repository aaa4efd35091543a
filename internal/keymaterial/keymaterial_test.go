package keymaterial

import (
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ca, err := Init("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	peer, err := ca.AssertPeer("cell-1", []string{"uvn"}, []string{"cell"})
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("this is the registry bundle contents")
	env, err := EncryptFile(peer.Cert, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecryptFile(peer.Key, env)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	ca, err := Init("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	peer, err := ca.AssertPeer("cell-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	env, err := EncryptFile(peer.Cert, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	env.Ciphertext[0] ^= 0xff

	if _, err := DecryptFile(peer.Key, env); err == nil {
		t.Fatal("expected HMAC mismatch on tampered ciphertext")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ca, err := Init("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	peer, err := ca.AssertPeer("cell-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("config bytes")
	sig, err := SignFile(peer.Key, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(peer.Cert, data, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(peer.Cert, []byte("tampered"), sig); err == nil {
		t.Fatal("expected signature verification to fail for different data")
	}
}

func TestAssertPeerPermissionsVerify(t *testing.T) {
	ca, err := Init("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	peer, err := ca.AssertPeer("cell-1", []string{"uvn", "cell"}, []string{"backbone"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ca.VerifyPermissions(peer.Permissions); err != nil {
		t.Fatalf("valid permissions doc rejected: %v", err)
	}
	peer.Permissions.PublishedTopics = append(peer.Permissions.PublishedTopics, "extra")
	if err := ca.VerifyPermissions(peer.Permissions); err == nil {
		t.Fatal("expected tampered permissions doc to fail verification")
	}
}

func TestRekeyCellKeepsPreviousGenerationValid(t *testing.T) {
	store, err := NewStore("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AssertPeer("testuvn", "cell-1", []string{"uvn"}, nil); err != nil {
		t.Fatal(err)
	}
	oldGen := store.Current()
	oldPeer := oldGen.Peers["cell-1"]

	newGen, err := store.Rekey("testuvn", RekeyScope{Cell: "cell-1"})
	if err != nil {
		t.Fatal(err)
	}
	if newGen.ID == oldGen.ID {
		t.Fatal("rekey should produce a new generation id")
	}
	if store.Previous().ID != oldGen.ID {
		t.Fatal("previous generation should be retained after rekey")
	}

	// Old generation's key material still decrypts data encrypted to it:
	// rekeying must not invalidate the outgoing generation.
	env, err := EncryptFile(oldPeer.Cert, []byte("still valid"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptFile(oldPeer.Key, env); err != nil {
		t.Fatalf("previous generation's key material should remain usable: %v", err)
	}

	newPeer := newGen.Peers["cell-1"]
	if newPeer.Cert.SerialNumber.Cmp(oldPeer.Cert.SerialNumber) == 0 {
		t.Fatal("rekeyed cell should receive a distinct certificate")
	}
}

func TestRekeyUnknownPeerFails(t *testing.T) {
	store, err := NewStore("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Rekey("testuvn", RekeyScope{Cell: "ghost"}); err == nil {
		t.Fatal("expected rekey of unknown peer to fail")
	}
}

func TestRekeyUVNRequiresAScope(t *testing.T) {
	store, err := NewStore("testuvn")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Rekey("testuvn", RekeyScope{UVN: true}); err == nil {
		t.Fatal("expected rekey_uvn with neither root_vpn nor particles_vpn to fail")
	}
}
