package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope structs serve as JSON map keys in the persisted user record,
// so each one round-trips through a "|"-delimited text form. Scope
// fields are base58 keys, hex hashes or group-name identifiers; none
// of them may contain "|".

func (s CoinScope) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s|%d", s.Creator, s.Op)), nil
}

func (s *CoinScope) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), "|")
	if len(parts) != 2 {
		return fmt.Errorf("malformed coin scope %q", b)
	}

	op, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return err
	}

	s.Creator, s.Op = parts[0], CoinOp(op)
	return nil
}

func (s NFTScope) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s|%d|%d", s.Post, s.Serial, s.Op)), nil
}

func (s *NFTScope) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return fmt.Errorf("malformed nft scope %q", b)
	}

	serial, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return err
	}

	op, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return err
	}

	s.Post, s.Serial, s.Op = parts[0], serial, NFTOp(op)
	return nil
}

func (s AssociationScope) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s|%d", s.Class, s.Op)), nil
}

func (s *AssociationScope) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), "|")
	if len(parts) != 2 {
		return fmt.Errorf("malformed association scope %q", b)
	}

	op, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return err
	}

	s.Class, s.Op = parts[0], AssociationOp(op)
	return nil
}

func (s AccessGroupScope) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s|%s|%d", s.Owner, s.GroupName, s.Op)), nil
}

func (s *AccessGroupScope) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return fmt.Errorf("malformed access group scope %q", b)
	}

	op, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return err
	}

	s.Owner, s.GroupName, s.Op = parts[0], parts[1], AccessGroupOp(op)
	return nil
}
