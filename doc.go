// Package xar reads and writes xar archives: a single seekable container
// holding a filesystem subtree together with named XML subdocuments.
//
// A container has three parts:
//   - Header: fixed-size, big-endian framing with the TOC lengths and the checksum algorithm
//   - TOC: zlib-compressed XML describing every member and subdocument
//   - Heap: the TOC digest, any signatures over it, then each member's encoded payload
//
// Archives are opened in one mode for their whole lifetime. [Create]
// returns a [*Writer] that stages members and subdocuments until
// [Writer.Close] finalizes the container. [OpenReader] returns a
// [*Reader] that parses the TOC eagerly and decodes payloads on demand.
// Both satisfy [Archive], and [Open] selects between them by [Mode].
//
// # Writing
//
//	w, err := xar.Create("out.xar", xar.WithCompression(xar.EncodingZstd))
//	if err != nil {
//	    return err
//	}
//	if err := w.Add("./src", true); err != nil {
//	    return err
//	}
//	meta, err := xar.NewSubdoc("meta", []byte(`<meta version="1"/>`))
//	if err != nil {
//	    return err
//	}
//	if err := w.AddSubdoc(meta); err != nil {
//	    return err
//	}
//	return w.Close()
//
// # Reading
//
//	r, err := xar.OpenReader("out.xar")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	stats, err := r.ExtractAll("./dest")
//
// # Signing
//
// [WithSigner] records an RSA signature over the TOC digest together with
// the signer's certificates. [Reader.Signatures] returns them, and
// [Signature.Verify] checks one against its leaf certificate.
//
// # Errors
//
// Failures match one of [ErrCreation], [ErrExtraction], [ErrArchive] and
// [ErrEngine] with errors.Is, and usually the underlying cause too, such as
// [ErrChecksumMismatch] or fs.ErrNotExist. Lookups of absent members or
// subdocuments match [ErrNotFound].
package xar
