// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// Locator carries a sparse, descending trail of block hashes a peer walks
// backward to find the most recent ancestor both sides already share,
// attached to a GetHeaders request.
type Locator struct {
	Hashes []Hash
}

// Bytes implements the p2p Message interface: a one-byte count followed by
// that many fixed-size hashes, in the order they were added.
func (l *Locator) Bytes() []byte {
	if len(l.Hashes) > MaxLocators {
		logrus.Fatal(errors.New("locator carries more hashes than MaxLocators allows"))
	}

	buff := new(bytes.Buffer)
	if err := binary.Write(buff, binary.BigEndian, uint8(len(l.Hashes))); err != nil {
		logrus.Fatal(err)
	}
	for _, h := range l.Hashes {
		if _, err := buff.Write(h); err != nil {
			logrus.Fatal(err)
		}
	}

	return buff.Bytes()
}

// Read implements the p2p Message interface.
func (l *Locator) Read(r io.Reader) error {
	var count uint8
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	if int(count) > MaxLocators {
		return errors.New("locator from peer exceeds MaxLocators")
	}

	l.Hashes = make([]Hash, count)
	for i := range l.Hashes {
		l.Hashes[i] = make([]byte, BlockHashSize)
		if _, err := io.ReadFull(r, l.Hashes[i]); err != nil {
			return err
		}
	}

	return nil
}
