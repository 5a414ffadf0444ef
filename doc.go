package memories

// This package defines common types and operations for unpacking a "memories" media-location export, resolving the country each item was captured in from its coordinates (offline), and re-assembling a selected subset of items in to one or more downloadable ZIP archives. Common operations include: Parsing export documents, classifying coordinates, planning batches, fetching and transforming media and archiving the results.
