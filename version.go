package ltfs

// Version is the software version reported in index creator fields and
// the APP_VERSION MAM attribute.
const Version = "2.4.5.1"

// FormatVersion is the LTFS on-tape format version written to labels and
// indexes.
const FormatVersion = "2.4.0"

// Creator identifies this implementation in labels, indexes and MAM.
const Creator = "LTFS-Go " + Version

// Vendor is the application vendor recorded in the APP_VENDER MAM
// attribute.
const Vendor = "OSS"
