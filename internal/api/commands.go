package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// Command is one POST /files request. The set of commands is closed; each
// variant is built by parseCommand with all of its required fields present.
type Command interface {
	Name() string
	Key() string
	command()
}

type keyed struct{ key string }

func (k keyed) Key() string { return k.key }
func (keyed) command()      {}

type CreateCmd struct{ keyed }

type DeleteCmd struct{ keyed }

type UploadCmd struct {
	keyed
	Files []*multipart.FileHeader
}

type EncryptCmd struct{ keyed }

type DecryptCmd struct{ keyed }

type RenameCmd struct {
	keyed
	NewName string
}

type MoveCmd struct {
	keyed
	Folder string
}

type VerifyCmd struct{ keyed }

type UploadInitCmd struct {
	keyed
	FileName string
	Size     int64
}

type UploadChunkCmd struct {
	keyed
	Chunk        *multipart.FileHeader
	UploadID     string
	FileName     string
	ContentRange string
}

type UploadCancelCmd struct {
	keyed
	UploadID string
}

func (CreateCmd) Name() string       { return protocol.CommandCreate }
func (DeleteCmd) Name() string       { return protocol.CommandDelete }
func (UploadCmd) Name() string       { return protocol.CommandUpload }
func (EncryptCmd) Name() string      { return protocol.CommandEncrypt }
func (DecryptCmd) Name() string      { return protocol.CommandDecrypt }
func (RenameCmd) Name() string       { return protocol.CommandRename }
func (MoveCmd) Name() string         { return protocol.CommandMove }
func (VerifyCmd) Name() string       { return protocol.CommandVerify }
func (UploadInitCmd) Name() string   { return protocol.CommandUploadInit }
func (UploadChunkCmd) Name() string  { return protocol.CommandUploadChunk }
func (UploadCancelCmd) Name() string { return protocol.CommandUploadCancel }

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == errBadRequest }

func missingArg(name string) error {
	return &requestError{msg: fmt.Sprintf("Missing arg: %q", name)}
}

func missingHeader(name string) error {
	return &requestError{msg: fmt.Sprintf("Missing header: %q", name)}
}

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// parseCommand builds the command described by a parsed POST form.
func parseCommand(r *http.Request) (Command, error) {
	field := r.PostForm.Get
	files := func(name string) []*multipart.FileHeader {
		if r.MultipartForm == nil {
			return nil
		}
		return r.MultipartForm.File[name]
	}

	key := field(protocol.FieldKey)
	if key == "" {
		key = r.Header.Get(protocol.KeyHeader)
	}
	k := keyed{key: key}
	requireKey := func() error {
		if key == "" {
			return missingArg(protocol.FieldKey)
		}
		return nil
	}

	name := field(protocol.FieldCommand)
	switch name {
	case "":
		return nil, missingArg(protocol.FieldCommand)

	case protocol.CommandCreate:
		return CreateCmd{k}, nil

	case protocol.CommandDelete:
		return DeleteCmd{k}, nil

	case protocol.CommandUpload:
		parts := files(protocol.FieldFiles)
		if len(parts) == 0 {
			return nil, missingArg(protocol.FieldFiles)
		}
		return UploadCmd{keyed: k, Files: parts}, nil

	case protocol.CommandEncrypt:
		if err := requireKey(); err != nil {
			return nil, err
		}
		return EncryptCmd{k}, nil

	case protocol.CommandDecrypt:
		if err := requireKey(); err != nil {
			return nil, err
		}
		return DecryptCmd{k}, nil

	case protocol.CommandVerify:
		if err := requireKey(); err != nil {
			return nil, err
		}
		return VerifyCmd{k}, nil

	case protocol.CommandRename:
		newName := field(protocol.FieldName)
		if newName == "" {
			return nil, missingArg(protocol.FieldName)
		}
		return RenameCmd{keyed: k, NewName: newName}, nil

	case protocol.CommandMove:
		folder, ok := r.PostForm[protocol.FieldFolder]
		if !ok || len(folder) == 0 {
			return nil, missingArg(protocol.FieldFolder)
		}
		// an empty folder moves to the vault root
		return MoveCmd{keyed: k, Folder: folder[0]}, nil

	case protocol.CommandUploadInit:
		fileName := field(protocol.FieldName)
		if fileName == "" {
			return nil, missingArg(protocol.FieldName)
		}
		sizeText := field(protocol.FieldSize)
		if sizeText == "" {
			return nil, missingArg(protocol.FieldSize)
		}
		size, err := strconv.ParseInt(sizeText, 10, 64)
		if err != nil || size <= 0 {
			return nil, badRequest("Invalid arg: %q", protocol.FieldSize)
		}
		return UploadInitCmd{keyed: k, FileName: fileName, Size: size}, nil

	case protocol.CommandUploadChunk:
		parts := files(protocol.FieldChunk)
		if len(parts) != 1 {
			return nil, badRequest("Invalid upload chunk")
		}
		cmd := UploadChunkCmd{
			keyed:        k,
			Chunk:        parts[0],
			UploadID:     r.Header.Get(protocol.UploadIDHeader),
			FileName:     r.Header.Get(protocol.FileNameHeader),
			ContentRange: r.Header.Get("Content-Range"),
		}
		switch {
		case cmd.UploadID == "":
			return nil, missingHeader(protocol.UploadIDHeader)
		case cmd.FileName == "":
			return nil, missingHeader(protocol.FileNameHeader)
		case cmd.ContentRange == "":
			return nil, missingHeader("Content-Range")
		}
		return cmd, nil

	case protocol.CommandUploadCancel:
		id := field(protocol.FieldID)
		if id == "" {
			return nil, missingArg(protocol.FieldID)
		}
		return UploadCancelCmd{keyed: k, UploadID: id}, nil

	default:
		return nil, badRequest("Invalid command")
	}
}
